package lgm

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/lgm/blas32/tensor/2d"
	"github.com/sw965/lgm/blas32/vector"
	"github.com/sw965/omw/encoding/gobx"
	"github.com/sw965/omw/mathx"
	"gonum.org/v1/gonum/blas/blas32"
	"math/rand/v2"
)

// FullCov はクラス毎に対角共分散を学習するL-GM損失。
// 共分散は cov = exp(LogCovs) として常に正に保つ。
type FullCov struct {
	NumClasses int
	FeatDim    int
	Alpha      float32
	Parameter  Parameter
}

func NewFullCov(numClasses, featDim int, alpha float32, rng *rand.Rand) (FullCov, error) {
	if numClasses <= 0 {
		return FullCov{}, fmt.Errorf("numClassesが不正(<=0): numClasses=%d", numClasses)
	}
	if featDim <= 0 {
		return FullCov{}, fmt.Errorf("featDimが不正(<=0): featDim=%d", featDim)
	}
	if alpha < 0 || mathx.IsNaN(alpha) || mathx.IsInf(alpha, 0) {
		return FullCov{}, fmt.Errorf("alphaが不正(負/NaN/Inf): alpha=%.6g", alpha)
	}

	loss := FullCov{
		NumClasses: numClasses,
		FeatDim:    featDim,
		Alpha:      alpha,
		Parameter: Parameter{
			Centers: tensor2d.NewNormal(numClasses, featDim, rng),
			LogCovs: tensor2d.NewZeros(numClasses, featDim),
		},
	}
	return loss, nil
}

func LoadFullCov(path string) (FullCov, error) {
	return gobx.Load[FullCov](path)
}

func (l *FullCov) Save(path string) error {
	err := gobx.Save(l, path)
	return err
}

func (l FullCov) Clone() FullCov {
	l.Parameter = l.Parameter.Clone()
	return l
}

func (l *FullCov) validate(feat blas32.General) error {
	err := validateParamShape(l.Parameter.Centers, l.NumClasses, l.FeatDim, "Centers")
	if err != nil {
		return err
	}

	err = validateParamShape(l.Parameter.LogCovs, l.NumClasses, l.FeatDim, "LogCovs")
	if err != nil {
		return err
	}
	return validateFeat(feat, l.FeatDim)
}

// covs は exp(LogCovs) を (クラス数*特徴量次元数) の密な配列として返す。
func (l *FullCov) covs() []float32 {
	logCovs := l.Parameter.LogCovs
	covs := make([]float32, l.NumClasses*l.FeatDim)
	for k := 0; k < l.NumClasses; k++ {
		for d := 0; d < l.FeatDim; d++ {
			covs[k*l.FeatDim+d] = math32.Exp(logCovs.Data[tensor2d.At(logCovs, k, d)])
		}
	}
	return covs
}

// Logits はマージン無しの対数尤度ロジット
// logits[i][k] = -0.5 * (Σ_d LogCovs[k][d] + マハラノビス距離の2乗) を返す。
// 定数項 -0.5*D*log(2π) はクラス間で共通の為、省く。
func (l *FullCov) Logits(feat blas32.General) (blas32.General, error) {
	if err := l.validate(feat); err != nil {
		return blas32.General{}, err
	}

	covs := l.covs()
	slog := tensor2d.Sum1(l.Parameter.LogCovs)
	centers := l.Parameter.Centers

	logits := tensor2d.NewZeros(feat.Rows, l.NumClasses)
	for i := 0; i < feat.Rows; i++ {
		for k := 0; k < l.NumClasses; k++ {
			dist := float32(0.0)
			for d := 0; d < l.FeatDim; d++ {
				diff := feat.Data[tensor2d.At(feat, i, d)] - centers.Data[tensor2d.At(centers, k, d)]
				dist += diff * diff / covs[k*l.FeatDim+d]
			}
			logits.Data[tensor2d.At(logits, i, k)] = -0.5 * (slog.Data[k] + dist)
		}
	}
	return logits, nil
}

// Center はクラスの中心ベクトルをビューとして返す。
func (l *FullCov) Center(label int) (blas32.Vector, error) {
	if label < 0 || label >= l.NumClasses {
		return blas32.Vector{}, fmt.Errorf("label index %d is out of range for %d classes", label, l.NumClasses)
	}
	return tensor2d.RowView(l.Parameter.Centers, label), nil
}

// ClampLogCovs は対数分散を[min, max]に制限する。
// 学習中に分散が潰れて数値不安定になるのを呼び出し側で防ぐ為の補助。
func (l *FullCov) ClampLogCovs(min, max float32) error {
	if min > max {
		return fmt.Errorf("min(%.6g) > max(%.6g)", min, max)
	}
	data := l.Parameter.LogCovs.Data
	for i, e := range data {
		if e < min {
			data[i] = min
		} else if e > max {
			data[i] = max
		}
	}
	return nil
}

/*
	Forward は Output と 逆伝播用クロージャを返す。

	dist[i][k] = Σ_d (feat[i][d] - Centers[k][d])^2 / cov[k][d]
	正解クラスのみ dist を (1+Alpha) 倍してマージンを課す。
	one-hot行列は作らず、labelsを直接参照する。

	Likelihood = (1/N) * Σ_i (0.5*||feat[i] - Centers[y_i]||^2 + 0.5*Σ_d LogCovs[y_i][d])
	尤度項の距離は共分散で割らず、プレーンなユークリッド距離を使う。
*/
func (l *FullCov) Forward(feat blas32.General, labels []int) (Output, Backward, error) {
	if err := l.validate(feat); err != nil {
		return Output{}, nil, err
	}
	if err := validateLabels(labels, feat.Rows, l.NumClasses); err != nil {
		return Output{}, nil, err
	}

	n := feat.Rows
	centers := l.Parameter.Centers
	covs := l.covs()
	slog := tensor2d.Sum1(l.Parameter.LogCovs)

	logits := tensor2d.NewZeros(n, l.NumClasses)
	marginLogits := tensor2d.NewZeros(n, l.NumClasses)

	lkdSum := float32(0.0)
	for i := 0; i < n; i++ {
		label := labels[i]
		for k := 0; k < l.NumClasses; k++ {
			dist := float32(0.0)
			for d := 0; d < l.FeatDim; d++ {
				diff := feat.Data[tensor2d.At(feat, i, d)] - centers.Data[tensor2d.At(centers, k, d)]
				dist += diff * diff / covs[k*l.FeatDim+d]
			}

			marginDist := dist
			if k == label {
				marginDist = (1.0 + l.Alpha) * dist
			}

			idx := tensor2d.At(logits, i, k)
			logits.Data[idx] = -0.5 * (slog.Data[k] + dist)
			marginLogits.Data[idx] = -0.5 * (slog.Data[k] + marginDist)
		}

		sq, err := vector.SquaredDistance(tensor2d.RowView(feat, i), tensor2d.RowView(centers, label))
		if err != nil {
			return Output{}, nil, err
		}
		lkdSum += 0.5*sq + 0.5*slog.Data[label]
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
					invCov := 1.0 / covs[k*l.FeatDim+d]

					/*
						m[i][k] = -0.5 * (slog[k] + w*dist[i][k]) より
						∂m/∂feat   = -w*diff/cov
						∂m/∂Center = w*diff/cov
						∂m/∂LogCov = -0.5 * (1 - w*diff^2/cov)
					*/
					dFeat.Data[tensor2d.At(dFeat, i, d)] += g * -w * diff * invCov
					grad.Centers.Data[tensor2d.At(grad.Centers, k, d)] += g * w * diff * invCov
					grad.LogCovs.Data[tensor2d.At(grad.LogCovs, k, d)] += g * -0.5 * (1.0 - w*diff*diff*invCov)
				}
			}

			/*
				∂Likelihood/∂feat      = diff/N
				∂Likelihood/∂Center[y] = -diff/N
				∂Likelihood/∂LogCov[y] = 0.5/N
			*/
			for d := 0; d < l.FeatDim; d++ {
				diff := feat.Data[tensor2d.At(feat, i, d)] - centers.Data[tensor2d.At(centers, label, d)]
				dFeat.Data[tensor2d.At(dFeat, i, d)] += lkdWeight * diff / nf
				grad.Centers.Data[tensor2d.At(grad.Centers, label, d)] -= lkdWeight * diff / nf
				grad.LogCovs.Data[tensor2d.At(grad.LogCovs, label, d)] += lkdWeight * 0.5 / nf
			}
		}
		return dFeat, grad, nil
	})

	return y, backward, nil
}
