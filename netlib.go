//go:build netlib

package lgm

import (
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

// go build -tags netlib で、blas32の実装をcgo経由のBLASに差し替える。
func init() {
	blas32.Use(netlib.Implementation{})
}
