// Package lgm implements the large-margin Gaussian Mixture (L-GM) loss for
// classification models. Forward returns per-class log-likelihood logits,
// margin logits and a likelihood regularization term, together with a
// closed-form backward closure for features, class centers and
// log-covariances.
//
// Package lgm は分類モデルの為の large-margin Gaussian Mixture (L-GM) 損失を実装します。
// Forward はクラス毎の対数尤度ロジット・マージンロジット・尤度正則化項と、
// 特徴量・クラス中心・対数分散についての解析的な逆伝播クロージャを返します。
//
// https://arxiv.org/abs/1803.02988
package lgm

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/lgm/blas32/tensor/2d"
	"github.com/sw965/omw/encoding/jsonx"
	"gonum.org/v1/gonum/blas/blas32"
)

// Parameter は学習対象のガウス分布パラメーター。
// CentersもLogCovsも(クラス数, 特徴量次元数)の形状を持ち、
// 外部の学習ループがAxpyGradで更新する。
// 共分散を学習しない損失では、LogCovsはサイズ0のまま使われる。
type Parameter struct {
	Centers blas32.General
	LogCovs blas32.General
}

func LoadParameterJSON(path string) (Parameter, error) {
	return jsonx.Load[Parameter](path)
}

func (p Parameter) SaveJSON(path string) error {
	err := jsonx.Save[Parameter](p, path)
	return err
}

func (p *Parameter) Clone() Parameter {
	return Parameter{
		Centers: tensor2d.Clone(p.Centers),
		LogCovs: tensor2d.Clone(p.LogCovs),
	}
}

func (p *Parameter) NewGradZerosLike() GradBuffer {
	return GradBuffer{
		Centers: tensor2d.NewZerosLike(p.Centers),
		LogCovs: tensor2d.NewZerosLike(p.LogCovs),
	}
}

func (p *Parameter) AxpyGrad(alpha float32, grad *GradBuffer) {
	if p.Centers.Rows != 0 {
		tensor2d.Axpy(alpha, grad.Centers, p.Centers)
	}

	if p.LogCovs.Rows != 0 {
		tensor2d.Axpy(alpha, grad.LogCovs, p.LogCovs)
	}
}

type GradBuffer struct {
	Centers blas32.General
	LogCovs blas32.General
}

func (g *GradBuffer) NewZerosLike() GradBuffer {
	return GradBuffer{
		Centers: tensor2d.NewZerosLike(g.Centers),
		LogCovs: tensor2d.NewZerosLike(g.LogCovs),
	}
}

func (g GradBuffer) Clone() GradBuffer {
	return GradBuffer{
		Centers: tensor2d.Clone(g.Centers),
		LogCovs: tensor2d.Clone(g.LogCovs),
	}
}

func (g *GradBuffer) Axpy(alpha float32, x *GradBuffer) {
	if x.Centers.Rows != 0 {
		tensor2d.Axpy(alpha, x.Centers, g.Centers)
	}

	if x.LogCovs.Rows != 0 {
		tensor2d.Axpy(alpha, x.LogCovs, g.LogCovs)
	}
}

func (g *GradBuffer) Scal(alpha float32) {
	if g.Centers.Rows != 0 {
		tensor2d.Scal(alpha, g.Centers)
	}

	if g.LogCovs.Rows != 0 {
		tensor2d.Scal(alpha, g.LogCovs)
	}
}

func (g *GradBuffer) MaxAbs() (float32, float32) {
	cMax := float32(0.0)
	for i := range g.Centers.Data {
		e := math32.Abs(g.Centers.Data[i])
		if e > cMax {
			cMax = e
		}
	}

	vMax := float32(0.0)
	for i := range g.LogCovs.Data {
		e := math32.Abs(g.LogCovs.Data[i])
		if e > vMax {
			vMax = e
		}
	}
	return cMax, vMax
}

type GradBuffers []GradBuffer

func (gs GradBuffers) Total() GradBuffer {
	total := gs[0].NewZerosLike()
	for _, g := range gs {
		total.Axpy(1.0, &g)
	}
	return total
}

func (gs GradBuffers) Average() GradBuffer {
	avg := gs.Total()
	avg.Scal(1.0 / float32(len(gs)))
	return avg
}

// Output は損失のForward出力。
// Logitsはマージン無しの対数尤度ロジット(評価・尤度比較用)、
// MarginLogitsはマージン付きロジット(学習時の分類損失用)、
// Likelihoodは特徴量をクラス中心へ引き寄せ、分散の発散を抑える尤度正則化項。
type Output struct {
	Logits       blas32.General
	MarginLogits blas32.General
	Likelihood   float32
}

// Backward は chain = ∂L/∂MarginLogits と lkdWeight = ∂L/∂Likelihood を受け取り、
// ∂L/∂特徴量 とパラメーター勾配を返す。
// マージン無しのLogitsは評価用の出力であり、勾配経路には含めない。
type Backward func(chain blas32.General, lkdWeight float32) (blas32.General, GradBuffer, error)

func validateParamShape(gen blas32.General, numClasses, featDim int, name string) error {
	if gen.Rows != numClasses || gen.Cols != featDim {
		return fmt.Errorf("%sの形状(%d, %d)が(クラス数, 特徴量次元数)=(%d, %d)と異なります", name, gen.Rows, gen.Cols, numClasses, featDim)
	}
	return nil
}

func validateFeat(feat blas32.General, featDim int) error {
	if feat.Cols != featDim {
		return fmt.Errorf("特徴量の次元数(%d)がモデルの次元数(%d)と異なります", feat.Cols, featDim)
	}
	if feat.Rows == 0 {
		return fmt.Errorf("特徴量バッチが空です。")
	}
	return nil
}

func validateLabels(labels []int, batchSize, numClasses int) error {
	if len(labels) != batchSize {
		return fmt.Errorf("バッチサイズが一致しません。")
	}
	for _, label := range labels {
		if label < 0 || label >= numClasses {
			return fmt.Errorf("label index %d is out of range for %d classes", label, numClasses)
		}
	}
	return nil
}
