package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"pspec/domain/core"
	"pspec/domain/spectrum"
)

// RawReader reads raw per-observation power-spectrum tables from Excel or
// CSV files. Expected columns (header names, case-insensitive):
//
//	window, sample, k, power, variance, freq_low_mhz, freq_high_mhz
//
// Rows sharing a (window, sample) pair form one RawSample; rows sharing a
// window form one RawGroup. The frequency columns may repeat per row;
// the first non-zero pair per window wins.
type RawReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

// NewRawReader creates a reader that handles both Excel and CSV files.
func NewRawReader(filePath string) *RawReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &RawReader{filePath: filePath, fileType: fileType}
}

// Read parses the file into raw measurement groups.
func (r *RawReader) Read() ([]spectrum.RawGroup, error) {
	log.Printf("[RawReader] reading %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: file not found: %s", core.ErrInvalidMeasurementInput, r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, fmt.Errorf("%w: unsupported file type %s", core.ErrInvalidMeasurementInput, r.fileType)
	}
	if err != nil {
		return nil, err
	}
	return parseRows(rows)
}

func (r *RawReader) readCSVRows() ([][]string, error) {
	f, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV rows: %w", err)
	}
	return rows, nil
}

func (r *RawReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: Excel file has no sheets", core.ErrInvalidMeasurementInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read Excel rows: %w", err)
	}
	return rows, nil
}

type columnIndex struct {
	window, sample, k, power, variance, freqLow, freqHigh int
}

func parseRows(rows [][]string) ([]spectrum.RawGroup, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: file needs a header row and at least one data row", core.ErrInvalidMeasurementInput)
	}
	idx, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	type sampleKey struct {
		window string
		sample int
	}
	samples := make(map[sampleKey]*spectrum.RawSample)
	type windowMeta struct {
		freqLow, freqHigh float64
		sampleIDs         []int
	}
	windows := make(map[string]*windowMeta)

	for rowNum, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		get := func(col int) string {
			if col < 0 || col >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[col])
		}
		window := get(idx.window)
		if window == "" {
			return nil, fmt.Errorf("%w: row %d has no window identifier", core.ErrInvalidMeasurementInput, rowNum+2)
		}
		sampleID := 0
		if s := get(idx.sample); s != "" {
			if sampleID, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("%w: row %d has bad sample index %q", core.ErrInvalidMeasurementInput, rowNum+2, s)
			}
		}
		k, err := parseFloat(get(idx.k), "k", rowNum+2)
		if err != nil {
			return nil, err
		}
		power, err := parseFloat(get(idx.power), "power", rowNum+2)
		if err != nil {
			return nil, err
		}
		variance, err := parseFloat(get(idx.variance), "variance", rowNum+2)
		if err != nil {
			return nil, err
		}

		meta, ok := windows[window]
		if !ok {
			meta = &windowMeta{}
			windows[window] = meta
		}
		if meta.freqLow == 0 && idx.freqLow >= 0 {
			if v := get(idx.freqLow); v != "" {
				if meta.freqLow, err = parseFloat(v, "freq_low_mhz", rowNum+2); err != nil {
					return nil, err
				}
			}
		}
		if meta.freqHigh == 0 && idx.freqHigh >= 0 {
			if v := get(idx.freqHigh); v != "" {
				if meta.freqHigh, err = parseFloat(v, "freq_high_mhz", rowNum+2); err != nil {
					return nil, err
				}
			}
		}

		key := sampleKey{window: window, sample: sampleID}
		s, ok := samples[key]
		if !ok {
			s = &spectrum.RawSample{}
			samples[key] = s
			meta.sampleIDs = append(meta.sampleIDs, sampleID)
		}
		s.K = append(s.K, k)
		s.Power = append(s.Power, power)
		s.Variance = append(s.Variance, variance)
	}

	names := make([]string, 0, len(windows))
	for name := range windows {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]spectrum.RawGroup, 0, len(names))
	for _, name := range names {
		meta := windows[name]
		sort.Ints(meta.sampleIDs)
		g := spectrum.RawGroup{
			Window:      core.WindowID(name),
			FreqLowMHz:  meta.freqLow,
			FreqHighMHz: meta.freqHigh,
		}
		for _, id := range meta.sampleIDs {
			g.Samples = append(g.Samples, *samples[sampleKey{window: name, sample: id}])
		}
		groups = append(groups, g)
	}
	log.Printf("[RawReader] parsed %d windows, %d samples", len(groups), len(samples))
	return groups, nil
}

func mapHeader(header []string) (columnIndex, error) {
	idx := columnIndex{window: -1, sample: -1, k: -1, power: -1, variance: -1, freqLow: -1, freqHigh: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "window":
			idx.window = i
		case "sample":
			idx.sample = i
		case "k":
			idx.k = i
		case "power":
			idx.power = i
		case "variance":
			idx.variance = i
		case "freq_low_mhz":
			idx.freqLow = i
		case "freq_high_mhz":
			idx.freqHigh = i
		}
	}
	for _, req := range []struct {
		name string
		col  int
	}{{"window", idx.window}, {"k", idx.k}, {"power", idx.power}, {"variance", idx.variance}} {
		if req.col < 0 {
			return idx, fmt.Errorf("%w: missing required column %q", core.ErrInvalidMeasurementInput, req.name)
		}
	}
	return idx, nil
}

func parseFloat(s, col string, row int) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: row %d column %s: %q is not numeric", core.ErrInvalidMeasurementInput, row, col, s)
	}
	return v, nil
}

// Loader adapts RawReader to the measurement store's loader contract,
// resolving each source identifier as a file path.
type Loader struct{}

// Load reads the raw groups from the file named by source.
func (Loader) Load(_ context.Context, source string) ([]spectrum.RawGroup, error) {
	return NewRawReader(source).Read()
}
