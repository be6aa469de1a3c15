package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// SourceCreator persists a validated source.
type SourceCreator interface {
	Create(ctx context.Context, source ingest.Source) (ingest.Source, error)
}

// Options describe the FILE source built from an import.
type Options struct {
	Name     string
	Interval ingest.Interval
	Tags     []string
	// Sheet selects the XLSX worksheet; the first one is used when empty.
	Sheet string
}

// Report summarizes one import.
type Report struct {
	Source  ingest.Source
	Rows    int
	Skipped []RowError
}

// Importer creates FILE sources from spreadsheet files.
type Importer struct {
	creator SourceCreator
	logger  *zap.Logger
}

// New builds an Importer.
func New(creator SourceCreator, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{creator: creator, logger: logger.Named("importer")}
}

// ParseFile picks the parser from the file extension.
func ParseFile(path, sheet string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ParseCSV(f)
	case ".xlsx", ".xlsm":
		return ParseXLSX(f, sheet)
	default:
		return Result{}, fmt.Errorf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// Import parses path and creates a FILE source holding the accepted rows.
func (i *Importer) Import(ctx context.Context, path string, opts Options) (Report, error) {
	parsed, err := ParseFile(path, opts.Sheet)
	if err != nil {
		return Report{}, err
	}
	for _, skipped := range parsed.Skipped {
		i.logger.Warn("skipping row", zap.String("file", path), zap.Int("row", skipped.Row), zap.String("reason", skipped.Error))
	}
	if len(parsed.Rows) == 0 {
		return Report{Skipped: parsed.Skipped}, errors.New("no importable rows")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	interval := opts.Interval
	if interval == "" {
		interval = ingest.IntervalWeekly
	}
	source, err := i.creator.Create(ctx, ingest.Source{
		Name:        name,
		URL:         "file://" + filepath.ToSlash(abs),
		Type:        ingest.SourceTypeFile,
		Interval:    interval,
		Tags:        opts.Tags,
		Description: fmt.Sprintf("imported from %s", filepath.Base(path)),
		Config: ingest.SourceConfig{File: &ingest.FileConfig{
			Origin: abs,
			Rows:   parsed.Rows,
		}},
	})
	if err != nil {
		return Report{Skipped: parsed.Skipped}, fmt.Errorf("create file source: %w", err)
	}
	i.logger.Info("import complete",
		zap.String("source_id", source.ID),
		zap.Int("rows", len(parsed.Rows)),
		zap.Int("skipped", len(parsed.Skipped)),
	)
	return Report{Source: source, Rows: len(parsed.Rows), Skipped: parsed.Skipped}, nil
}
