// Package importer turns CSV and XLSX spreadsheets into FILE sources whose
// rows the file collector later maps 1:1 into items.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// Recognized header names.
const (
	colTitle       = "title"
	colLink        = "link"
	colDescription = "description"
	colTags        = "tags"
	colAuthor      = "author"
	colPubDate     = "pub_date"

	headerRow = 1 // spreadsheet rows are 1-based
)

var pubDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// RowError reports a row that was skipped.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// Result holds the accepted rows and the rejected ones.
type Result struct {
	Rows    []ingest.FileRow
	Skipped []RowError
}

// ParseCSV reads a header row followed by data rows.
func ParseCSV(r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return Result{}, fmt.Errorf("read csv: %w", err)
	}
	return parseRecords(records)
}

// ParseXLSX reads the named sheet, or the first sheet when sheet is empty.
func ParseXLSX(r io.Reader, sheet string) (Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return Result{}, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return Result{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return parseRecords(rows)
}

func parseRecords(records [][]string) (Result, error) {
	if len(records) == 0 {
		return Result{}, errors.New("file is empty")
	}
	cols, err := headerIndex(records[0])
	if err != nil {
		return Result{}, err
	}
	var res Result
	for i, record := range records[1:] {
		rowNum := headerRow + 1 + i
		if blank(record) {
			continue
		}
		row, msg := parseRow(record, cols)
		if msg != "" {
			res.Skipped = append(res.Skipped, RowError{Row: rowNum, Error: msg})
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func headerIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if key == "" {
			continue
		}
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	if _, ok := cols[colLink]; !ok {
		return nil, fmt.Errorf("header must include a %q column", colLink)
	}
	return cols, nil
}

func parseRow(record []string, cols map[string]int) (ingest.FileRow, string) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	link := get(colLink)
	if link == "" {
		return ingest.FileRow{}, "link is required"
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ingest.FileRow{}, "link must be an absolute http(s) URL"
	}

	row := ingest.FileRow{
		Title:       get(colTitle),
		Link:        link,
		Description: get(colDescription),
		Tags:        splitTags(get(colTags)),
		Author:      get(colAuthor),
	}
	if row.Title == "" {
		row.Title = link
	}
	if raw := get(colPubDate); raw != "" {
		ts, ok := parsePubDate(raw)
		if !ok {
			return ingest.FileRow{}, fmt.Sprintf("pub_date %q is not a recognized date", raw)
		}
		row.PubDate = &ts
	}
	return row, ""
}

func parsePubDate(raw string) (time.Time, bool) {
	for _, layout := range pubDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		tag := strings.TrimSpace(f)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
