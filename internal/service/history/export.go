package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat selects the history export encoding.
type ExportFormat string

// Supported export formats.
const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// csvHeader is the fixed CSV column order.
var csvHeader = []string{
	"ID",
	"Evolution ID",
	"Timestamp",
	"Strategy",
	"Duration(ms)",
	"Success",
	"RollbackRequired",
	"ErrorRate",
	"PerformanceImpact",
}

// Export serializes the full record set. JSON is pretty-printed; CSV uses
// the fixed column order with rates at four decimal places.
func (t *Tracker) Export(ctx context.Context, format ExportFormat) ([]byte, error) {
	records, err := t.repo.ListRecords(ctx)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportJSON:
		return json.MarshalIndent(records, "", "  ")
	case ExportCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return nil, err
		}
		for _, record := range records {
			row := []string{
				record.ID,
				record.EvolutionID,
				record.Timestamp.UTC().Format(time.RFC3339),
				string(record.Strategy),
				strconv.FormatInt(record.Duration.Milliseconds(), 10),
				strconv.FormatBool(record.Result.Success),
				strconv.FormatBool(record.Result.RollbackRequired),
				strconv.FormatFloat(record.Metrics.ErrorRate, 'f', 4, 64),
				strconv.FormatFloat(record.Metrics.PerformanceImpact, 'f', 4, 64),
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("history: unsupported export format %q", format)
	}
}
