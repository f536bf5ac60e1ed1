package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/xuri/excelize/v2"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const sheetName = "matches"

// Row describes one transfer involved in a suspicious match.
type Row struct {
	Pair          int
	Side          string
	TransferID    string
	SourceID      string
	OriginalID    string
	EmitterName   string
	RecipientName string
	Amount        string
	Currency      string
	Dates         map[models.DateField]string
	Match         bool
}

// Diagnostic is the artifact left behind when a batch is aborted for manual review.
type Diagnostic struct {
	Title     string
	BatchID   string
	CreatedAt time.Time
	Rows      []Row
}

func (d *Diagnostic) header() []any {
	header := []any{"pair", "side", "transfer_id", "source_id", "original_id", "emitter", "recipient", "amount", "currency"}
	for _, f := range models.DateFields {
		header = append(header, string(f))
	}
	return append(header, "match")
}

// Render lays the diagnostic out as a single-sheet workbook.
func (d *Diagnostic) Render() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetRow(sheetName, "A1", &[]any{d.Title, d.BatchID, d.CreatedAt.Format(time.RFC3339)}); err != nil {
		f.Close()
		return nil, err
	}
	header := d.header()
	if err := f.SetSheetRow(sheetName, "A2", &header); err != nil {
		f.Close()
		return nil, err
	}

	for i, row := range d.Rows {
		values := []any{row.Pair, row.Side, row.TransferID, row.SourceID, row.OriginalID, row.EmitterName, row.RecipientName, row.Amount, row.Currency}
		for _, field := range models.DateFields {
			values = append(values, row.Dates[field])
		}
		values = append(values, row.Match)

		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			f.Close()
			return nil, err
		}
	}

	return f, nil
}

// Writer persists diagnostics and returns where they went.
type Writer interface {
	Write(ctx context.Context, d *Diagnostic) (string, error)
}

type ExcelWriter struct {
	dir    string
	logger ectologger.Logger
}

func NewExcelWriter(dir string, logger ectologger.Logger) *ExcelWriter {
	return &ExcelWriter{dir: dir, logger: logger}
}

func (w *ExcelWriter) Write(ctx context.Context, d *Diagnostic) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "report.ExcelWriter.Write")
	defer span.End()

	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id": d.BatchID,
		"rows":     len(d.Rows),
	})

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		log.WithError(err).Error("Failed to create report directory")
		return "", fmt.Errorf("failed to create report directory %s: %w", w.dir, err)
	}

	f, err := d.Render()
	if err != nil {
		log.WithError(err).Error("Failed to render diagnostic report")
		return "", fmt.Errorf("failed to render diagnostic report: %w", err)
	}
	defer f.Close()

	name := fmt.Sprintf("ambiguous-matches-%s-%s.xlsx", d.BatchID, d.CreatedAt.UTC().Format("20060102T150405"))
	path := filepath.Join(w.dir, name)
	if err := f.SaveAs(path); err != nil {
		log.WithError(err).Error("Failed to save diagnostic report")
		return "", fmt.Errorf("failed to save diagnostic report: %w", err)
	}

	log.WithFields(map[string]any{"path": path}).Warn("Wrote diagnostic report for manual review")
	return path, nil
}
