package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
)

// Exporter produces XLSX workbooks from the audit trail for practice
// compliance reviews.
type Exporter struct {
	sink   Sink
	logger *slog.Logger
}

func NewExporter(sink Sink, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{sink: sink, logger: logger}
}

// ExportXLSX returns a workbook of events in [from, to). Dates are
// normalized to day boundaries in UTC; a zero `to` means "through today".
func (e *Exporter) ExportXLSX(ctx context.Context, from, to time.Time) ([]byte, error) {
	start := time.Now()

	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	if to.IsZero() {
		to = time.Now().UTC()
	}
	// Exclusive upper bound: the day after `to`.
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	events, err := e.sink.List(ctx, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Audit Trail"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Timestamp (UTC)",
		"Operator (hashed)",
		"Template Version",
		"Overall Confidence",
		"Field Count",
		"Remote Used",
		"Success",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, ev := range events {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, ev.TimestampUTC.Format(time.RFC3339))
		write(2, ev.HashedUserID)
		write(3, ev.TemplateVersion)
		write(4, fmt.Sprintf("%.1f", ev.OverallConfidence))
		write(5, ev.FieldCount)
		write(6, ev.RemoteUsed)
		write(7, ev.Success)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 24) // timestamp
	_ = f.SetColWidth(sheet, "B", "B", 66) // hash
	_ = f.SetColWidth(sheet, "C", "C", 18)
	_ = f.SetColWidth(sheet, "D", "E", 18)
	_ = f.SetColWidth(sheet, "F", "G", 12)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("audit.export.ok",
		"rows", len(events),
		"from", fromDay.Format("2006-01-02"),
		"to", toDay.Format("2006-01-02"),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
