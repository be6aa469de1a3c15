package importer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/clock/manual"
	"github.com/JakeFAU/sourcesync/internal/collector"
	"github.com/JakeFAU/sourcesync/internal/id/uuid"
	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/lifecycle"
	"github.com/JakeFAU/sourcesync/internal/storage/memory"
)

const sampleCSV = `Title,Link,Description,Tags,Author,Pub Date
First,https://example.com/1,One,"cpi, prices, cpi",Ann,2025-01-02
,https://example.com/2,Two,,,
Bad link,ftp://example.com/3,,,,
Bad date,https://example.com/4,,,,yesterday
,,,,,
Fifth,https://example.com/5,,a;b,,2025-01-03T10:00:00Z
`

func TestParseCSV(t *testing.T) {
	t.Parallel()

	res, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	first := res.Rows[0]
	require.Equal(t, "First", first.Title)
	require.Equal(t, []string{"cpi", "prices"}, first.Tags)
	require.Equal(t, "Ann", first.Author)
	require.NotNil(t, first.PubDate)
	require.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), *first.PubDate)

	require.Equal(t, "https://example.com/2", res.Rows[1].Title)
	require.Equal(t, []string{"a", "b"}, res.Rows[2].Tags)

	require.Equal(t, []RowError{
		{Row: 4, Error: "link must be an absolute http(s) URL"},
		{Row: 5, Error: `pub_date "yesterday" is not a recognized date`},
	}, res.Skipped)
}

func TestParseCSVRequiresLinkColumn(t *testing.T) {
	t.Parallel()

	_, err := ParseCSV(strings.NewReader("title,url\nx,https://example.com\n"))
	require.ErrorContains(t, err, `"link"`)

	_, err = ParseCSV(strings.NewReader(""))
	require.Error(t, err)
}

func buildWorkbook(t *testing.T, sheet string, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
		require.NoError(t, f.DeleteSheet("Sheet1"))
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	t.Parallel()

	data := buildWorkbook(t, "Articles", [][]any{
		{"title", "link", "description", "tags", "author", "pub_date"},
		{"Alpha", "https://example.com/a", "first", "x, y", "Bo", "2025-02-01"},
		{"Beta", "not a url", "", "", "", ""},
	})

	res, err := ParseXLSX(bytes.NewReader(data), "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "Alpha", res.Rows[0].Title)
	require.Equal(t, []string{"x", "y"}, res.Rows[0].Tags)
	require.Len(t, res.Skipped, 1)
	require.Equal(t, 3, res.Skipped[0].Row)

	_, err = ParseXLSX(bytes.NewReader(data), "Missing")
	require.Error(t, err)
}

func newImporter(t *testing.T) (*Importer, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	clk := manual.New(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	mgr := lifecycle.NewManager(store, uuid.New(), clk, zap.NewNop())
	return New(mgr, zap.NewNop()), store
}

func TestImportCreatesFileSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "press-releases.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	imp, store := newImporter(t)
	report, err := imp.Import(context.Background(), path, Options{Tags: []string{"import"}})
	require.NoError(t, err)
	require.Equal(t, 3, report.Rows)
	require.Len(t, report.Skipped, 2)

	src, err := store.GetSource(context.Background(), report.Source.ID)
	require.NoError(t, err)
	require.Equal(t, "press-releases", src.Name)
	require.Equal(t, ingest.SourceTypeFile, src.Type)
	require.Equal(t, ingest.IntervalWeekly, src.Interval)
	require.True(t, strings.HasPrefix(src.URL, "file://"))
	require.NotNil(t, src.Config.File)
	require.Len(t, src.Config.File.Rows, 3)

	items, err := collector.NewFile().Collect(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "https://example.com/5", items[2].Link)
}

func TestImportXLSXFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "feed.xlsx")
	data := buildWorkbook(t, "Sheet1", [][]any{
		{"Link", "Title"},
		{"https://example.com/x", "X"},
	})
	require.NoError(t, os.WriteFile(path, data, 0o600))

	imp, _ := newImporter(t)
	report, err := imp.Import(context.Background(), path, Options{Name: "Workbook", Interval: ingest.IntervalOneDay})
	require.NoError(t, err)
	require.Equal(t, "Workbook", report.Source.Name)
	require.Equal(t, ingest.IntervalOneDay, report.Source.Interval)
	require.Equal(t, 1, report.Rows)
}

func TestImportRejectsUnsupportedAndEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	txt := filepath.Join(dir, "rows.txt")
	require.NoError(t, os.WriteFile(txt, []byte("link\n"), 0o600))
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte("link,title\nftp://x,y\n"), 0o600))

	imp, store := newImporter(t)
	_, err := imp.Import(context.Background(), txt, Options{})
	require.ErrorContains(t, err, "unsupported file type")

	report, err := imp.Import(context.Background(), empty, Options{})
	require.Error(t, err)
	require.Len(t, report.Skipped, 1)

	sources, err := store.ListSources(context.Background())
	require.NoError(t, err)
	require.Empty(t, sources)
}
