package lgm

import (
	"fmt"
	"github.com/sw965/lgm/blas32/tensor/2d"
	"github.com/sw965/lgm/blas32/vector"
	"github.com/sw965/omw/encoding/gobx"
	"github.com/sw965/omw/mathx"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
)

// IdentityCov は共分散を単位行列に固定したL-GM損失。
// 学習対象はCentersのみで、ロジットはユークリッド距離の2乗だけで決まる。
// FullCovのLogCovsを全て0に固定した場合と同じ出力になる。
type IdentityCov struct {
	NumClasses int
	FeatDim    int
	Alpha      float32
	Parameter  Parameter
}

func NewIdentityCov(numClasses, featDim int, alpha float32, rng *rand.Rand) (IdentityCov, error) {
	if numClasses <= 0 {
		return IdentityCov{}, fmt.Errorf("numClassesが不正(<=0): numClasses=%d", numClasses)
	}
	if featDim <= 0 {
		return IdentityCov{}, fmt.Errorf("featDimが不正(<=0): featDim=%d", featDim)
	}
	if alpha < 0 || mathx.IsNaN(alpha) || mathx.IsInf(alpha, 0) {
		return IdentityCov{}, fmt.Errorf("alphaが不正(負/NaN/Inf): alpha=%.6g", alpha)
	}

	loss := IdentityCov{
		NumClasses: numClasses,
		FeatDim:    featDim,
		Alpha:      alpha,
		Parameter: Parameter{
			Centers: tensor2d.NewNormal(numClasses, featDim, rng),
			LogCovs: tensor2d.NewZeros(0, 0),
		},
	}
	return loss, nil
}

func LoadIdentityCov(path string) (IdentityCov, error) {
	return gobx.Load[IdentityCov](path)
}

func (l *IdentityCov) Save(path string) error {
	err := gobx.Save(l, path)
	return err
}

func (l IdentityCov) Clone() IdentityCov {
	l.Parameter = l.Parameter.Clone()
	return l
}

func (l *IdentityCov) validate(feat blas32.General) error {
	err := validateParamShape(l.Parameter.Centers, l.NumClasses, l.FeatDim, "Centers")
	if err != nil {
		return err
	}
	return validateFeat(feat, l.FeatDim)
}

// Logits は logits[i][k] = -0.5 * ||feat[i] - Centers[k]||^2 を返す。
func (l *IdentityCov) Logits(feat blas32.General) (blas32.General, error) {
	if err := l.validate(feat); err != nil {
		return blas32.General{}, err
	}

	logits := tensor2d.NewZeros(feat.Rows, l.NumClasses)
	for i := 0; i < feat.Rows; i++ {
		for k := 0; k < l.NumClasses; k++ {
			sq, err := vector.SquaredDistance(tensor2d.RowView(feat, i), tensor2d.RowView(l.Parameter.Centers, k))
			if err != nil {
				return blas32.General{}, err
			}
			logits.Data[tensor2d.At(logits, i, k)] = -0.5 * sq
		}
	}
	return logits, nil
}

// Center はクラスの中心ベクトルをビューとして返す。
func (l *IdentityCov) Center(label int) (blas32.Vector, error) {
	if label < 0 || label >= l.NumClasses {
		return blas32.Vector{}, fmt.Errorf("label index %d is out of range for %d classes", label, l.NumClasses)
	}
	return tensor2d.RowView(l.Parameter.Centers, label), nil
}

/*
	Forward は Output と 逆伝播用クロージャを返す。
	共分散が単位行列の為、対数分散の項は現れない。

	dist[i][k] = ||feat[i] - Centers[k]||^2
	正解クラスのみ dist を (1+Alpha) 倍してマージンを課す。
	Likelihood = (1/N) * Σ_i 0.5*||feat[i] - Centers[y_i]||^2
*/
func (l *IdentityCov) Forward(feat blas32.General, labels []int) (Output, Backward, error) {
	if err := l.validate(feat); err != nil {
		return Output{}, nil, err
	}
	if err := validateLabels(labels, feat.Rows, l.NumClasses); err != nil {
		return Output{}, nil, err
	}

	n := feat.Rows
	centers := l.Parameter.Centers

	logits := tensor2d.NewZeros(n, l.NumClasses)
	marginLogits := tensor2d.NewZeros(n, l.NumClasses)

	lkdSum := float32(0.0)
	for i := 0; i < n; i++ {
		label := labels[i]
		for k := 0; k < l.NumClasses; k++ {
			dist := float32(0.0)
			for d := 0; d < l.FeatDim; d++ {
				diff := feat.Data[tensor2d.At(feat, i, d)] - centers.Data[tensor2d.At(centers, k, d)]
				dist += diff * diff
			}

			marginDist := dist
			if k == label {
				marginDist = (1.0 + l.Alpha) * dist
			}

			idx := tensor2d.At(logits, i, k)
			logits.Data[idx] = -0.5 * dist
			marginLogits.Data[idx] = -0.5 * marginDist

			if k == label {
				lkdSum += 0.5 * dist
			}
		}
	}

	y := Output{
		Logits:       logits,
		MarginLogits: marginLogits,
		Likelihood:   lkdSum / float32(n),
	}

	backward := Backward(func(chain blas32.General, lkdWeight float32) (blas32.General, GradBuffer, error) {
		if chain.Rows != n || chain.Cols != l.NumClasses {
			return blas32.General{}, GradBuffer{}, fmt.Errorf("chainの形状(%d, %d)がMarginLogitsの形状(%d, %d)と異なります", chain.Rows, chain.Cols, n, l.NumClasses)
		}

		dFeat := tensor2d.NewZerosLike(feat)
		grad := l.Parameter.NewGradZerosLike()
		nf := float32(n)

		for i := 0; i < n; i++ {
			label := labels[i]
			for k := 0; k < l.NumClasses; k++ {
				g := chain.Data[tensor2d.At(chain, i, k)]
				w := float32(1.0)
				if k == label {
					w = 1.0 + l.Alpha
				}

				for d := 0; d < l.FeatDim; d++ {
					diff := feat.Data[tensor2d.At(feat, i, d)] - centers.Data[tensor2d.At(centers, k, d)]

					// m[i][k] = -0.5*w*dist[i][k] より ∂m/∂feat = -w*diff, ∂m/∂Center = w*diff
					dFeat.Data[tensor2d.At(dFeat, i, d)] += g * -w * diff
					grad.Centers.Data[tensor2d.At(grad.Centers, k, d)] += g * w * diff
				}
			}

			// ∂Likelihood/∂feat = diff/N, ∂Likelihood/∂Center[y] = -diff/N
			for d := 0; d < l.FeatDim; d++ {
				diff := feat.Data[tensor2d.At(feat, i, d)] - centers.Data[tensor2d.At(centers, label, d)]
				dFeat.Data[tensor2d.At(dFeat, i, d)] += lkdWeight * diff / nf
				grad.Centers.Data[tensor2d.At(grad.Centers, label, d)] -= lkdWeight * diff / nf
			}
		}
		return dFeat, grad, nil
	})

	return y, backward, nil
}
