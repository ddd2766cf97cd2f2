package calibration

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	summaryHeader = []string{"Field", "Value"}
	staticHeader  = []string{"Placement", "Receiver", "Count", "Median (dB)", "Mean (dB)", "StdDev (dB)", "Passed", "Warnings"}
	walksHeader   = []string{"Walk", "Label", "Detected", "Matched", "Gap (dB)", "Lag (s)", "Samples"}
)

// GenerateXLSX renders the report as a workbook with Summary, Static and Walks sheets.
func GenerateXLSX(r *Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]interface{}{
		{"Generated at", r.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		{"Profile version", r.ProfileVersion},
		{"Water receiver", r.WaterReceiver},
		{"Harbor receiver", r.HarborReceiver},
		{"Bias water (dB)", r.BiasDB[r.WaterReceiver]},
		{"Bias harbor (dB)", r.BiasDB[r.HarborReceiver]},
		{"Static passed", r.Static.Passed},
		{"Static failed", r.Static.Failed},
		{"Movement passed", r.Movement.Passed},
		{"Movement failed", r.Movement.Failed},
		{"Min observed gap (dB)", r.MinObservedGap},
		{"Max observed lag (s)", r.MaxObservedLag.Seconds()},
		{"Recommended min_dominance_db", r.MinDominanceDB},
		{"Recommended max_peak_lag_s", r.MaxPeakLagS},
		{"Default thresholds kept", r.UsedDefaultRules},
	}
	for _, w := range r.Warnings {
		summary = append(summary, []interface{}{"Warning", w})
	}

	var static [][]interface{}
	for _, pl := range r.Placements {
		receivers := make([]string, 0, len(pl.Receivers))
		for rx := range pl.Receivers {
			receivers = append(receivers, rx)
		}
		sort.Strings(receivers)
		warnings := strings.Join(pl.Warnings, "; ")
		if len(receivers) == 0 {
			static = append(static, []interface{}{string(pl.Placement), "", 0, "", "", "", pl.Passed, warnings})
			continue
		}
		for _, rx := range receivers {
			st := pl.Receivers[rx]
			static = append(static, []interface{}{string(pl.Placement), rx, st.Count, st.Median, st.Mean, st.StdDev, pl.Passed, warnings})
		}
	}

	var walks [][]interface{}
	for _, w := range r.Walks {
		walks = append(walks, []interface{}{w.Index, string(w.Label), string(w.Detected), w.Matched, w.Gap, w.Lag.Seconds(), w.Samples})
	}

	sheets := []struct {
		name   string
		header []string
		rows   [][]interface{}
		widths []float64
	}{
		{"Summary", summaryHeader, summary, []float64{32, 48}},
		{"Static", staticHeader, static, []float64{14, 14, 8, 12, 12, 12, 8, 60}},
		{"Walks", walksHeader, walks, []float64{8, 10, 10, 10, 10, 10, 10}},
	}
	for i, sh := range sheets {
		if _, err := f.NewSheet(sh.name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", sh.name, err)
		}
		if i == 0 {
			// drop the default Sheet1 so Summary becomes the first tab
			f.DeleteSheet("Sheet1")
		}
		if err := writeSheet(f, sh.name, sh.header, sh.rows, headerStyle); err != nil {
			return nil, err
		}
		for c, w := range sh.widths {
			col, err := excelize.ColumnNumberToName(c + 1)
			if err != nil {
				return nil, fmt.Errorf("failed to convert column number: %w", err)
			}
			if err := f.SetColWidth(sh.name, col, col, w); err != nil {
				return nil, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteXLSX writes the workbook for r to path.
func WriteXLSX(r *Report, path string) error {
	data, err := GenerateXLSX(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}, headerStyle int) error {
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	for i, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}
	return nil
}
