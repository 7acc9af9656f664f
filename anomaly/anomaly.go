// Package anomaly reports whether an input's claimed class label is
// consistent with the class conditional Gaussians learned by an L-GM loss,
// following the detection experiment of https://arxiv.org/abs/1803.02988.
//
// Package anomaly は、入力が主張するクラスラベルが、L-GM損失で学習された
// クラス条件付きガウス分布と整合しているかを判定します。
package anomaly

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/lgm/blas32/vector"
	"github.com/sw965/omw/mathx"
	"github.com/sw965/omw/parallel"
	"github.com/sw965/omw/slicesx"
	"gonum.org/v1/gonum/blas/blas32"
)

// Extractor は入力をベクトル特徴量へ埋め込む外部の特徴抽出ネットワーク。
type Extractor func(blas32.Vector) (blas32.Vector, error)

// Loss は学習済みのクラス中心を持つL-GM損失。
// lgm.FullCov と lgm.IdentityCov が実装する。
type Loss interface {
	Logits(feat blas32.General) (blas32.General, error)
	Center(label int) (blas32.Vector, error)
}

type Scorer struct {
	Extractor Extractor
	Loss      Loss
}

func (s *Scorer) logits(x blas32.Vector) (blas32.General, error) {
	feat, err := s.Extractor(x)
	if err != nil {
		return blas32.General{}, err
	}

	batch := blas32.General{
		Rows:   1,
		Cols:   feat.N,
		Stride: feat.N,
		Data:   feat.Data,
	}
	return s.Loss.Logits(batch)
}

// Predict は対数尤度が最大のクラスを返す。
func (s *Scorer) Predict(x blas32.Vector) (int, error) {
	logits, err := s.logits(x)
	if err != nil {
		return 0, err
	}
	row := logits.Data[:logits.Cols]
	return slicesx.Argsort(row)[len(row)-1], nil
}

// IsAnomalous は予測クラスが主張クラスと一致しない場合にtrueを返す。
func (s *Scorer) IsAnomalous(x blas32.Vector, claimed int) (bool, error) {
	logits, err := s.logits(x)
	if err != nil {
		return false, err
	}
	if claimed < 0 || claimed >= logits.Cols {
		return false, fmt.Errorf("claimed label %d is out of range for %d classes", claimed, logits.Cols)
	}

	row := logits.Data[:logits.Cols]
	predicted := slicesx.Argsort(row)[len(row)-1]
	return predicted != claimed, nil
}

// Likelihood は主張クラスの中心に対する正規化されていないガウス尤度
// exp(-0.5*||feat - center||^2) を返す。中心と一致する時に最大値1を取る。
func (s *Scorer) Likelihood(x blas32.Vector, claimed int) (float32, error) {
	feat, err := s.Extractor(x)
	if err != nil {
		return 0.0, err
	}

	center, err := s.Loss.Center(claimed)
	if err != nil {
		return 0.0, err
	}

	sq, err := vector.SquaredDistance(feat, center)
	if err != nil {
		return 0.0, err
	}
	return math32.Exp(-0.5 * sq), nil
}

func (s *Scorer) PredictBatch(xs []blas32.Vector, p int) ([]int, error) {
	predicted := make([]int, len(xs))
	err := parallel.For(len(xs), p, func(workerId, idx int) error {
		label, err := s.Predict(xs[idx])
		if err != nil {
			return err
		}
		predicted[idx] = label
		return nil
	})

	if err != nil {
		return nil, err
	}
	return predicted, nil
}

func (s *Scorer) IsAnomalousBatch(xs []blas32.Vector, claimed []int, p int) ([]bool, error) {
	if len(xs) != len(claimed) {
		return nil, fmt.Errorf("バッチサイズが一致しません。")
	}

	flags := make([]bool, len(xs))
	err := parallel.For(len(xs), p, func(workerId, idx int) error {
		flag, err := s.IsAnomalous(xs[idx], claimed[idx])
		if err != nil {
			return err
		}
		flags[idx] = flag
		return nil
	})

	if err != nil {
		return nil, err
	}
	return flags, nil
}

func (s *Scorer) LikelihoodBatch(xs []blas32.Vector, claimed []int, p int) ([]float32, error) {
	if len(xs) != len(claimed) {
		return nil, fmt.Errorf("バッチサイズが一致しません。")
	}

	lkds := make([]float32, len(xs))
	err := parallel.For(len(xs), p, func(workerId, idx int) error {
		lkd, err := s.Likelihood(xs[idx], claimed[idx])
		if err != nil {
			return err
		}
		lkds[idx] = lkd
		return nil
	})

	if err != nil {
		return nil, err
	}
	return lkds, nil
}

// AnomalyRate はバッチ中で異常と判定された割合を返す。
func (s *Scorer) AnomalyRate(xs []blas32.Vector, claimed []int, p int) (float32, error) {
	n := len(xs)
	if n == 0 {
		return 0.0, fmt.Errorf("バッチが空です。")
	}
	if n != len(claimed) {
		return 0.0, fmt.Errorf("バッチサイズが一致しません。")
	}

	counts := make([]int, p)
	err := parallel.For(n, p, func(workerId, idx int) error {
		flag, err := s.IsAnomalous(xs[idx], claimed[idx])
		if err != nil {
			return err
		}
		if flag {
			counts[workerId] += 1
		}
		return nil
	})

	if err != nil {
		return 0.0, err
	}

	sum := mathx.Sum(counts...)
	return float32(sum) / float32(n), nil
}
