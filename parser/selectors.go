package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy is one named way of pulling a value out of a page fragment.
type Strategy struct {
	Name    string
	Extract func(*goquery.Selection) (string, *goquery.Selection)
}

// Chain is an ordered list of strategies; the first one producing an accepted value wins.
type Chain []Strategy

// Match is the winning value of a chain together with the element it came from.
type Match struct {
	Value    string
	Strategy string
	Node     *goquery.Selection
}

// Find applies the strategies in order and returns the first value accepted by accept.
// A nil accept takes any non-empty value. A strategy that panics is logged and skipped.
func (c Chain) Find(root *goquery.Selection, accept func(string) bool) (Match, bool) {
	if root == nil {
		return Match{}, false
	}
	for _, s := range c {
		value, node, err := safeExtract(s, root)
		if err != nil {
			slog.Debug("selector strategy failed", slog.String("strategy", s.Name), slog.Any("error", err))
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if accept != nil && !accept(value) {
			continue
		}
		return Match{Value: value, Strategy: s.Name, Node: node}, true
	}
	return Match{}, false
}

// First is Find with no acceptance filter.
func (c Chain) First(root *goquery.Selection) (Match, bool) {
	return c.Find(root, nil)
}

func safeExtract(s Strategy, root *goquery.Selection) (value string, node *goquery.Selection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", s.Name, r)
		}
	}()
	value, node = s.Extract(root)
	return value, node, nil
}

// TextChain reads the text of the first element matching each selector, falling back to its title attribute.
func TextChain(selectors ...string) Chain {
	chain := make(Chain, 0, len(selectors))
	for _, sel := range selectors {
		chain = append(chain, Strategy{
			Name: "text:" + sel,
			Extract: func(root *goquery.Selection) (string, *goquery.Selection) {
				node := root.Find(sel).First()
				if node.Length() == 0 {
					return "", nil
				}
				if text := CollapseSpace(node.Text()); text != "" {
					return text, node
				}
				title, _ := node.Attr("title")
				return title, node
			},
		})
	}
	return chain
}

// AttrChain reads the first present attribute from attrs on the first element matching each selector.
func AttrChain(attrs []string, selectors ...string) Chain {
	chain := make(Chain, 0, len(selectors))
	for _, sel := range selectors {
		chain = append(chain, Strategy{
			Name: "attr:" + sel,
			Extract: func(root *goquery.Selection) (string, *goquery.Selection) {
				node := root.Find(sel).First()
				if node.Length() == 0 {
					return "", nil
				}
				return FirstAttr(node, attrs...), node
			},
		})
	}
	return chain
}

// ImageAttrs are the attributes lazy-loading image widgets put the real URL in.
var ImageAttrs = []string{"src", "data-src", "data-lazy-src", "data-lazy"}

// FirstAttr returns the first non-empty attribute value among names.
func FirstAttr(node *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := node.Attr(name); ok && strings.TrimSpace(v) != "" {
			v = strings.TrimSpace(v)
			if strings.HasPrefix(v, "data:") {
				continue
			}
			return v
		}
	}
	return ""
}

// SelectFirst returns the elements of the first selector that matches anything in root.
func SelectFirst(root *goquery.Selection, selectors []string) (*goquery.Selection, string) {
	for _, sel := range selectors {
		found := root.Find(sel)
		if found.Length() > 0 {
			return found, sel
		}
	}
	return root.Slice(0, 0), ""
}

// CollapseSpace trims and squashes internal whitespace runs.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
