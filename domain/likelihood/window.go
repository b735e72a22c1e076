package likelihood

import (
	"gonum.org/v1/gonum/mat"

	"pspec/domain/core"
)

// ApplyWindow projects a binned theory-space vector into measurement space
// via the spectral window's window function, p_w = W p_m. Pure
// matrix-vector product; the only validation is shape compatibility.
func ApplyWindow(binned []float64, window *mat.Dense) ([]float64, error) {
	rows, cols := window.Dims()
	if cols != len(binned) {
		return nil, core.NewShapeMismatchError("window function columns", cols, len(binned))
	}
	var out mat.VecDense
	out.MulVec(window, mat.NewVecDense(len(binned), binned))
	result := make([]float64, rows)
	for i := 0; i < rows; i++ {
		result[i] = out.AtVec(i)
	}
	return result, nil
}
