package lgm

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/lgm/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas/blas32"
	"slices"
)

// SoftmaxCrossEntropy は各行のsoftmax cross-entropy損失のバッチ平均を返す。
// MarginLogitsと組み合わせて分類損失 L_cls として使う想定。
func SoftmaxCrossEntropy(logits blas32.General, labels []int) (float32, error) {
	if logits.Rows == 0 {
		return 0.0, fmt.Errorf("ロジットのバッチが空です。")
	}
	if err := validateLabels(labels, logits.Rows, logits.Cols); err != nil {
		return 0.0, err
	}

	sum := float32(0.0)
	for i := 0; i < logits.Rows; i++ {
		row := tensor2d.RowView(logits, i).Data
		maxLogit := slices.Max(row) //オーバーフロー対策
		sumExp := float32(0.0)
		for _, e := range row {
			sumExp += math32.Exp(e - maxLogit)
		}
		// -log(softmax[label]) = -(logit[label] - maxLogit - log(Σexp))
		sum += -(row[labels[i]] - maxLogit - math32.Log(sumExp))
	}
	return sum / float32(logits.Rows), nil
}

// SoftmaxCrossEntropyDerivative は ∂(バッチ平均CE)/∂logits = (softmax - onehot)/N を返す。
// Backwardのchain引数にそのまま渡せる。
func SoftmaxCrossEntropyDerivative(logits blas32.General, labels []int) (blas32.General, error) {
	if logits.Rows == 0 {
		return blas32.General{}, fmt.Errorf("ロジットのバッチが空です。")
	}
	if err := validateLabels(labels, logits.Rows, logits.Cols); err != nil {
		return blas32.General{}, err
	}

	grad := tensor2d.NewZeros(logits.Rows, logits.Cols)
	nf := float32(logits.Rows)
	for i := 0; i < logits.Rows; i++ {
		row := tensor2d.RowView(logits, i).Data
		maxLogit := slices.Max(row)

		expRow := make([]float32, len(row))
		sumExp := float32(0.0)
		for j, e := range row {
			expRow[j] = math32.Exp(e - maxLogit)
			sumExp += expRow[j]
		}

		for j := range row {
			y := expRow[j] / sumExp
			t := float32(0.0)
			if j == labels[i] {
				t = 1.0
			}
			grad.Data[tensor2d.At(grad, i, j)] = (y - t) / nf
		}
	}
	return grad, nil
}
