package vector

import (
	"fmt"
	"gonum.org/v1/gonum/blas/blas32"
	"slices"
)

func NewZeros(n int) blas32.Vector {
	return blas32.Vector{
		N:    n,
		Inc:  1,
		Data: make([]float32, n),
	}
}

func NewZerosLike(vec blas32.Vector) blas32.Vector {
	return NewZeros(vec.N)
}

func Clone(vec blas32.Vector) blas32.Vector {
	return blas32.Vector{
		N:    vec.N,
		Inc:  vec.Inc,
		Data: slices.Clone(vec.Data),
	}
}

// SquaredDistance はユークリッド距離の2乗を返す。
func SquaredDistance(x, y blas32.Vector) (float32, error) {
	if x.N != y.N {
		return 0.0, fmt.Errorf("ベクトルの長さが一致しません。x=%d, y=%d", x.N, y.N)
	}

	diff := NewZeros(x.N)
	blas32.Copy(x, diff)
	blas32.Axpy(-1.0, y, diff)
	return blas32.Dot(diff, diff), nil
}
