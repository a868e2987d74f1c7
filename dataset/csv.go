// Package dataset reads scan targets from CSV files and persists batch
// outcomes as CSV rows or SQLite records.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/pagesignal/models"
)

// ReadTargets loads targets from a CSV file with a header row. The URL comes
// from a "url" or "URL" column, else the first column; the label from a
// "label" column, else the second column. Rows without a URL are skipped.
func ReadTargets(path string) ([]models.ScanTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	return readTargets(f)
}

func readTargets(r io.Reader) ([]models.ScanTarget, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	urlCol, labelCol := 0, 1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "url", "URL":
			urlCol = i
		case "label":
			labelCol = i
		}
	}
	if labelCol == urlCol {
		labelCol = -1
	}

	var targets []models.ScanTarget
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: read row: %w", err)
		}
		t := models.ScanTarget{URL: strings.TrimSpace(field(rec, urlCol))}
		if t.URL == "" {
			continue
		}
		t.Label = strings.TrimSpace(field(rec, labelCol))
		targets = append(targets, t)
	}
	return targets, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// ResultHeader is the column order of the results file.
func ResultHeader() []string {
	return append([]string{"url", "label"}, models.FeatureColumns...)
}

// WriteResults appends every successful result to path, sorted by URL. The
// header is written only when the file is created. With no successes a
// single placeholder row is written instead.
func WriteResults(path string, results map[string]*models.ScanResult) error {
	urls := make([]string, 0, len(results))
	for u, r := range results {
		if r != nil && r.Success {
			urls = append(urls, u)
		}
	}
	sort.Strings(urls)

	header := ResultHeader()
	var rows [][]string
	if len(urls) == 0 {
		header = []string{"url", "label", "status"}
		rows = append(rows, []string{"N/A", "", "No results found"})
	}
	for _, u := range urls {
		r := results[u]
		row := r.Row()
		rec := make([]string, 0, len(header))
		rec = append(rec, u, r.Label)
		for _, col := range models.FeatureColumns {
			rec = append(rec, strconv.Itoa(row[col]))
		}
		rows = append(rows, rec)
	}
	return appendCSV(path, header, rows)
}

// WriteErrorLog appends failed targets to path. It does nothing when
// entries is empty.
func WriteErrorLog(path string, entries []models.ErrorLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.URL, e.Error}
	}
	return appendCSV(path, []string{"URL", "Error Message"}, rows)
}

// ErrorLogPath names the error log of one input file run at now.
func ErrorLogPath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("errors-%d.csv", now.UnixMilli()))
}

func appendCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("dataset: create dir: %w", err)
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("dataset: open %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if !exists {
		if err := w.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("dataset: write header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("dataset: write rows: %w", err)
	}
	return f.Close()
}

// ListInputs returns the .csv files of dir, oldest modification first.
func ListInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: read dir %s: %w", dir, err)
	}

	type input struct {
		path  string
		mtime time.Time
	}
	var inputs []input
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("dataset: stat %s: %w", e.Name(), err)
		}
		inputs = append(inputs, input{path: filepath.Join(dir, e.Name()), mtime: info.ModTime()})
	}
	sort.SliceStable(inputs, func(i, j int) bool {
		return inputs[i].mtime.Before(inputs[j].mtime)
	})

	paths := make([]string, len(inputs))
	for i, in := range inputs {
		paths[i] = in.path
	}
	return paths, nil
}
