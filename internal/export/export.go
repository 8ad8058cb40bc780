// Package export flattens stored check results into a tabular report.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"practicum/internal/store"
)

var header = []string{
	"participant", "task_id", "round", "check", "score", "reason",
	"artifact_location", "content_id", "rendered_url", "created_at",
}

// WriteCSV streams every check result row from the store as CSV, one line
// per check, header first.
func WriteCSV(st store.Store, w io.Writer) (int, error) {
	rows, err := st.ExportRows()
	if err != nil {
		return 0, fmt.Errorf("load export rows: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		record := []string{
			row.Participant,
			row.TaskID,
			strconv.Itoa(row.Round),
			row.Check,
			strconv.FormatFloat(row.Score, 'f', -1, 64),
			row.Reason,
			row.ArtifactLocation,
			row.ContentID,
			row.RenderedURL,
			row.CreatedAt,
		}
		if err := cw.Write(record); err != nil {
			return i, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(rows), fmt.Errorf("flush: %w", err)
	}
	return len(rows), nil
}
