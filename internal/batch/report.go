package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/duncanmillerza/hadada-intake/internal/pipeline"
)

// reportHeaders are the review workbook columns, one row per extracted field.
var reportHeaders = []string{"File", "Field", "Value", "Raw Value", "Confidence", "Valid", "Notes"}

// ReportBuilder accumulates outcomes across workers. It is the Sink handed
// to the queue.
type ReportBuilder struct {
	mu   sync.Mutex
	rows []Outcome
}

func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{}
}

func (b *ReportBuilder) Record(out Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, out)
}

// Outcomes returns the recorded outcomes sorted by path, so artifacts come
// out stable regardless of worker interleaving.
func (b *ReportBuilder) Outcomes() []Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Outcome, len(b.rows))
	copy(out, b.rows)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// XLSX renders the review workbook: one row per field for digitized forms,
// one error row for files that failed outright.
func (b *ReportBuilder) XLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Review"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	write := func(col, row int, v any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheet, cell, v)
	}

	for i, h := range reportHeaders {
		if err := write(i+1, 1, h); err != nil {
			return nil, err
		}
	}

	row := 2
	for _, out := range b.Outcomes() {
		if out.Err != nil {
			cells := []any{out.Path, "", "", "", "", false, out.Err.Error()}
			for col, v := range cells {
				if err := write(col+1, row, v); err != nil {
					return nil, err
				}
			}
			row++
			continue
		}
		for _, fv := range out.Response.Data.Fields {
			cells := []any{
				out.Path,
				fv.Name,
				fv.Value,
				fv.RawValue,
				fmt.Sprintf("%.1f", fv.Confidence),
				fv.Valid,
				strings.Join(fieldWarnings(out.Response, fv.Name), "; "),
			}
			for col, v := range cells {
				if err := write(col+1, row, v); err != nil {
					return nil, err
				}
			}
			row++
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 40); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "B", "D", 24); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "G", "G", 48); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fieldWarnings picks the response warnings addressed to one field.
func fieldWarnings(resp *pipeline.Response, name string) []string {
	var msgs []string
	prefix := name + ": "
	for _, w := range resp.Data.Warnings {
		if strings.HasPrefix(w, prefix) {
			msgs = append(msgs, strings.TrimPrefix(w, prefix))
		}
	}
	return msgs
}

type jsonlRecord struct {
	File     string             `json:"file"`
	Response *pipeline.Response `json:"response,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// WriteJSONL streams one record per outcome, the machine-readable
// counterpart of the workbook.
func (b *ReportBuilder) WriteJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, out := range b.Outcomes() {
		rec := jsonlRecord{File: out.Path}
		if out.Err != nil {
			rec.Error = out.Err.Error()
		} else {
			rec.Response = out.Response
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
