package tensor2d

import (
	"github.com/sw965/omw/mathx/randx"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
	"slices"
)

func NewZeros(rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   make([]float32, rows*cols),
	}
}

func NewZerosLike(gen blas32.General) blas32.General {
	return NewZeros(gen.Rows, gen.Cols)
}

// NewNormal は標準正規分布 N(0, 1) で初期化する。クラス中心の初期値用。
func NewNormal(rows, cols int, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = float32(rng.NormFloat64())
	}
	return gen
}

// NewRademacher は各要素を等確率で ±1 に初期化する。SPSAの摂動方向用。
func NewRademacher(rows, cols int, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	for i := range gen.Data {
		if randx.Bool(rng) {
			gen.Data[i] = 1.0
		} else {
			gen.Data[i] = -1.0
		}
	}
	return gen
}

func N(gen blas32.General) int {
	return gen.Rows * gen.Cols
}

func Clone(gen blas32.General) blas32.General {
	return blas32.General{
		Rows:   gen.Rows,
		Cols:   gen.Cols,
		Stride: gen.Stride,
		Data:   slices.Clone(gen.Data),
	}
}

func At(gen blas32.General, row, col int) int {
	return row*gen.Stride + col
}

// RowView は第row行をコピーせずにベクトルとして参照する。
func RowView(gen blas32.General, row int) blas32.Vector {
	offset := row * gen.Stride
	return blas32.Vector{
		N:    gen.Cols,
		Inc:  1,
		Data: gen.Data[offset : offset+gen.Cols],
	}
}

func ToVector(gen blas32.General) blas32.Vector {
	return blas32.Vector{
		N:    N(gen),
		Inc:  1,
		Data: gen.Data,
	}
}

func Scal(alpha float32, gen blas32.General) {
	vec := ToVector(gen)
	blas32.Scal(alpha, vec)
}

func Axpy(alpha float32, x, y blas32.General) {
	xv := ToVector(x)
	yv := ToVector(y)
	blas32.Axpy(alpha, xv, yv)
}

func Sum1(gen blas32.General) blas32.Vector {
	sums := make([]float32, gen.Rows)
	for r := 0; r < gen.Rows; r++ {
		offset := r * gen.Stride
		var sum float32
		for c := 0; c < gen.Cols; c++ {
			sum += gen.Data[offset+c]
		}
		sums[r] = sum
	}
	return blas32.Vector{
		N:    gen.Rows,
		Inc:  1,
		Data: sums,
	}
}
