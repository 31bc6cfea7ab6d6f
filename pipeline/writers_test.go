package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-price-compare/models"
)

func sampleProduct() *models.ScrapedProduct {
	return &models.ScrapedProduct{
		Name:            "Samsung Galaxy A14 128GB",
		Price:           models.Float(21000),
		OriginalPrice:   models.Float(25000),
		DiscountPercent: models.Float(16),
		Currency:        "KES",
		URL:             "http://example.test/p/1",
		ImageURL:        "http://example.test/img.png",
		SourceID:        "jumia",
		SourceName:      "Jumia Kenya",
		InStock:         true,
		ReviewsCount:    models.Int(12),
		ScrapedAt:       time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC),
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if err := writer.Write([]*models.ScrapedProduct{sampleProduct()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0][0] != "source_id" || records[0][2] != "name" || records[0][3] != "price" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	row := records[1]
	if row[0] != "jumia" || row[3] != "21000" || row[4] != "25000" {
		t.Fatalf("unexpected row: %v", row)
	}
	// rating is unknown and must stay blank rather than 0
	if row[8] != "" || row[9] != "12" {
		t.Fatalf("rating/reviews = %q/%q", row[8], row[9])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write([]*models.ScrapedProduct{sampleProduct(), sampleProduct()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.ScrapedProduct
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.SourceID != "jumia" || decoded.Price == nil || *decoded.Price != 21000 {
			t.Fatalf("unexpected record: %+v", decoded)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 2 {
		t.Fatalf("json lines=%d, want 2", count)
	}
}

func TestJSONWriterValidateEmpty(t *testing.T) {
	writer, err := NewJSONWriter(filepath.Join(t.TempDir(), "empty.jsonl"))
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Validate(); err == nil {
		t.Fatalf("expected empty file to fail validation")
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "nested", "products.csv")
	jsonPath := filepath.Join(dir, "nested", "products.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]*models.ScrapedProduct{sampleProduct()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

type failingWriter struct {
	err    error
	writes int
}

func (fw *failingWriter) Write([]*models.ScrapedProduct) error {
	fw.writes++
	return fw.err
}

func (fw *failingWriter) Close() error    { return nil }
func (fw *failingWriter) Validate() error { return fw.err }

func TestMultiWriterKeepsWritingPastFailures(t *testing.T) {
	broken := &failingWriter{err: errors.New("disk full")}
	healthy := &failingWriter{}
	writer := NewMultiWriter().Add("archive", broken).Add("jsonl", healthy)

	err := writer.Write([]*models.ScrapedProduct{sampleProduct()})
	if err == nil || !strings.Contains(err.Error(), "archive: disk full") {
		t.Fatalf("expected labelled error, got %v", err)
	}
	if healthy.writes != 1 {
		t.Fatalf("healthy output writes = %d, want 1", healthy.writes)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected validation error from broken output")
	}
}

func TestSourceSplitWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "products")
	writer, err := NewSourceSplitWriter(dir)
	if err != nil {
		t.Fatalf("create split writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected validation error before any listing")
	}

	jiji := sampleProduct()
	jiji.SourceID = "jiji"
	odd := sampleProduct()
	odd.SourceID = "../shop"
	batch := []*models.ScrapedProduct{sampleProduct(), jiji, sampleProduct(), odd}
	if err := writer.Write(batch); err != nil {
		t.Fatalf("write split: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate split: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close split: %v", err)
	}

	want := map[string]int{"jumia": 2, "jiji": 1, "___shop": 1}
	for name, lines := range want {
		path := filepath.Join(dir, name+".jsonl")
		if got := countLines(t, path); got != lines {
			t.Fatalf("%s lines = %d, want %d", path, got, lines)
		}
	}
	if writer.Path("../shop") != filepath.Join(dir, "___shop.jsonl") {
		t.Fatalf("unsafe source id escaped the directory: %s", writer.Path("../shop"))
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n
}

func TestWriteComparison(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "comparison.json")
	cheap := sampleProduct()
	group := &models.MatchGroup{
		Primary:  cheap,
		Sources:  []string{"jumia"},
		BestDeal: cheap,
		Savings:  models.Savings{Amount: 500, Percent: 2.3},
	}

	if err := WriteComparison(path, "samsung a14", []*models.MatchGroup{group}); err != nil {
		t.Fatalf("write comparison: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read comparison: %v", err)
	}
	var doc struct {
		Query  string               `json:"query"`
		Groups []*models.MatchGroup `json:"groups"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode comparison: %v", err)
	}
	if doc.Query != "samsung a14" || len(doc.Groups) != 1 || doc.Groups[0].Savings.Amount != 500 {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestWriteComparisonEmptyGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comparison.json")
	if err := WriteComparison(path, "", nil); err != nil {
		t.Fatalf("write comparison: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read comparison: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode comparison: %v", err)
	}
	if string(doc["groups"]) != "[]" {
		t.Fatalf("groups = %s, want []", doc["groups"])
	}
}
