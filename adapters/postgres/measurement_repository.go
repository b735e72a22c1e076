package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"gonum.org/v1/gonum/mat"

	"pspec/domain/core"
	"pspec/domain/spectrum"
	"pspec/ports"
)

// measurementRepository implements the MeasurementRepository interface
type measurementRepository struct {
	db *sqlx.DB
}

// NewMeasurementRepository creates a new measurement repository
func NewMeasurementRepository(db *sqlx.DB) ports.MeasurementRepository {
	return &measurementRepository{db: db}
}

// Save upserts an averaged measurement, JSON-encoding the vectors and
// matrices.
func (r *measurementRepository) Save(ctx context.Context, m *spectrum.Measurement) error {
	centers, err := json.Marshal(m.KBinCenters)
	if err != nil {
		return fmt.Errorf("failed to marshal kbin_centers: %w", err)
	}
	widths, err := json.Marshal(m.KBinWidths)
	if err != nil {
		return fmt.Errorf("failed to marshal kbin_widths: %w", err)
	}
	meanPower, err := json.Marshal(m.MeanPower)
	if err != nil {
		return fmt.Errorf("failed to marshal mean_power: %w", err)
	}
	covariance, err := json.Marshal(matrixRows(m.Covariance))
	if err != nil {
		return fmt.Errorf("failed to marshal covariance: %w", err)
	}
	windowFn, err := json.Marshal(matrixRows(m.WindowFn))
	if err != nil {
		return fmt.Errorf("failed to marshal window function: %w", err)
	}

	query := `INSERT INTO measurements (
		window_id, kbin_centers, kbin_widths, mean_power, covariance, window_fn,
		redshift, has_redshift, little_h, history
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (window_id) DO UPDATE SET
		kbin_centers = EXCLUDED.kbin_centers,
		kbin_widths = EXCLUDED.kbin_widths,
		mean_power = EXCLUDED.mean_power,
		covariance = EXCLUDED.covariance,
		window_fn = EXCLUDED.window_fn,
		redshift = EXCLUDED.redshift,
		has_redshift = EXCLUDED.has_redshift,
		little_h = EXCLUDED.little_h,
		history = EXCLUDED.history`

	_, err = r.db.ExecContext(ctx, query,
		m.Window.String(), centers, widths, meanPower, covariance, windowFn,
		m.Redshift, m.HasRedshift, m.LittleH, m.History,
	)
	if err != nil {
		return fmt.Errorf("failed to save measurement: %w", err)
	}
	return nil
}

// GetByWindow retrieves a measurement by its spectral window
func (r *measurementRepository) GetByWindow(ctx context.Context, w core.WindowID) (*spectrum.Measurement, error) {
	query := `SELECT window_id, kbin_centers, kbin_widths, mean_power, covariance,
		window_fn, redshift, has_redshift, little_h, COALESCE(history, '') as history
	FROM measurements WHERE window_id = $1`

	row := r.db.QueryRowContext(ctx, query, w.String())
	m, err := scanMeasurement(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", core.ErrWindowNotFound, w)
	}
	return m, err
}

// List retrieves all stored measurements ordered by window
func (r *measurementRepository) List(ctx context.Context) ([]*spectrum.Measurement, error) {
	query := `SELECT window_id, kbin_centers, kbin_widths, mean_power, covariance,
		window_fn, redshift, has_redshift, little_h, COALESCE(history, '') as history
	FROM measurements ORDER BY window_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}
	defer rows.Close()

	var out []*spectrum.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes a measurement by its spectral window
func (r *measurementRepository) Delete(ctx context.Context, w core.WindowID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM measurements WHERE window_id = $1`, w.String())
	if err != nil {
		return fmt.Errorf("failed to delete measurement: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row rowScanner) (*spectrum.Measurement, error) {
	var m spectrum.Measurement
	var window string
	var centers, widths, meanPower, covariance, windowFn []byte

	err := row.Scan(&window, &centers, &widths, &meanPower, &covariance, &windowFn,
		&m.Redshift, &m.HasRedshift, &m.LittleH, &m.History)
	if err != nil {
		return nil, err
	}
	m.Window = core.WindowID(window)

	if err := json.Unmarshal(centers, &m.KBinCenters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kbin_centers: %w", err)
	}
	if err := json.Unmarshal(widths, &m.KBinWidths); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kbin_widths: %w", err)
	}
	if err := json.Unmarshal(meanPower, &m.MeanPower); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mean_power: %w", err)
	}

	var covRows, winRows [][]float64
	if err := json.Unmarshal(covariance, &covRows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal covariance: %w", err)
	}
	if err := json.Unmarshal(windowFn, &winRows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal window function: %w", err)
	}
	if m.Covariance, err = symFromRows(covRows); err != nil {
		return nil, err
	}
	if m.WindowFn, err = denseFromRows(winRows); err != nil {
		return nil, err
	}
	return &m, nil
}

func matrixRows(a mat.Matrix) [][]float64 {
	r, c := a.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			rows[i][j] = a.At(i, j)
		}
	}
	return rows
}

func symFromRows(rows [][]float64) (*mat.SymDense, error) {
	n := len(rows)
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(rows[i]) != n {
			return nil, core.NewShapeMismatchError("covariance row", len(rows[i]), n)
		}
		for j := i; j < n; j++ {
			s.SetSym(i, j, rows[i][j])
		}
	}
	return s, nil
}

func denseFromRows(rows [][]float64) (*mat.Dense, error) {
	r := len(rows)
	if r == 0 {
		return nil, fmt.Errorf("%w: empty matrix", core.ErrShapeMismatch)
	}
	c := len(rows[0])
	d := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		if len(rows[i]) != c {
			return nil, core.NewShapeMismatchError("matrix row", len(rows[i]), c)
		}
		for j := 0; j < c; j++ {
			d.Set(i, j, rows[i][j])
		}
	}
	return d, nil
}
