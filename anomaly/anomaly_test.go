package anomaly_test

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/lgm"
	"github.com/sw965/lgm/anomaly"
	"github.com/sw965/omw/mathx/randx"
	"gonum.org/v1/gonum/blas/blas32"
	"slices"
	"testing"
)

func newVector(data ...float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}

// 2クラス・2次元の検査用Scorer。クラス0の中心は(0,0)、クラス1の中心は(10,10)。
func newScorerForTest() anomaly.Scorer {
	rng := randx.NewPCGFromGlobalSeed()
	loss, err := lgm.NewIdentityCov(2, 2, 1.0, rng)
	if err != nil {
		panic(err)
	}
	loss.Parameter.Centers.Data = []float32{0.0, 0.0, 10.0, 10.0}

	extractor := func(x blas32.Vector) (blas32.Vector, error) {
		return x, nil
	}

	return anomaly.Scorer{Extractor: extractor, Loss: &loss}
}

func TestScorerPredict(t *testing.T) {
	scorer := newScorerForTest()

	predicted, err := scorer.Predict(newVector(1.0, 1.0))
	if err != nil {
		panic(err)
	}
	if predicted != 0 {
		t.Errorf("テスト失敗: predicted=%d", predicted)
	}

	predicted, err = scorer.Predict(newVector(9.0, 9.0))
	if err != nil {
		panic(err)
	}
	if predicted != 1 {
		t.Errorf("テスト失敗: predicted=%d", predicted)
	}
}

func TestScorerIsAnomalous(t *testing.T) {
	scorer := newScorerForTest()
	x := newVector(1.0, 1.0)

	flag, err := scorer.IsAnomalous(x, 0)
	if err != nil {
		panic(err)
	}
	if flag {
		t.Errorf("テスト失敗: 主張クラスと予測クラスが一致しているのに異常判定された")
	}

	flag, err = scorer.IsAnomalous(x, 1)
	if err != nil {
		panic(err)
	}
	if !flag {
		t.Errorf("テスト失敗: 中心(10,10)から遠いのに異常判定されなかった")
	}

	flag, err = scorer.IsAnomalous(newVector(0.1, 0.1), 0)
	if err != nil {
		panic(err)
	}
	if flag {
		t.Errorf("テスト失敗")
	}

	// クラス1の中心そのものはクラス0として異常
	flag, err = scorer.IsAnomalous(newVector(10.0, 10.0), 0)
	if err != nil {
		panic(err)
	}
	if !flag {
		t.Errorf("テスト失敗")
	}

	if _, err := scorer.IsAnomalous(x, 2); err == nil {
		t.Errorf("エラーが返されるべき")
	}
	if _, err := scorer.IsAnomalous(x, -1); err == nil {
		t.Errorf("エラーが返されるべき")
	}
}

func TestScorerLikelihood(t *testing.T) {
	scorer := newScorerForTest()

	// 中心と一致する入力の尤度は1
	lkd, err := scorer.Likelihood(newVector(0.0, 0.0), 0)
	if err != nil {
		panic(err)
	}
	if lkd != 1.0 {
		t.Errorf("テスト失敗: lkd=%v", lkd)
	}

	// 中心から離れるほど尤度は単調に減少する
	prev := lkd
	for _, x := range []float32{1.0, 2.0, 3.0} {
		lkd, err := scorer.Likelihood(newVector(x, 0.0), 0)
		if err != nil {
			panic(err)
		}
		if lkd >= prev {
			t.Errorf("テスト失敗: x=%v lkd=%v prev=%v", x, lkd, prev)
		}
		prev = lkd
	}

	// ||(1,1)-(0,0)||^2 = 2 なので exp(-1)
	lkd, err = scorer.Likelihood(newVector(1.0, 1.0), 0)
	if err != nil {
		panic(err)
	}
	if diff := math32.Abs(lkd - math32.Exp(-1.0)); diff > 1e-6 {
		t.Errorf("テスト失敗: lkd=%v", lkd)
	}

	if _, err := scorer.Likelihood(newVector(0.0, 0.0), 9); err == nil {
		t.Errorf("エラーが返されるべき")
	}
}

func TestScorerBatch(t *testing.T) {
	scorer := newScorerForTest()
	p := 2

	xs := []blas32.Vector{
		newVector(0.0, 0.0),
		newVector(1.0, 1.0),
		newVector(9.0, 9.0),
		newVector(10.0, 10.0),
	}

	predicted, err := scorer.PredictBatch(xs, p)
	if err != nil {
		panic(err)
	}
	if !slices.Equal(predicted, []int{0, 0, 1, 1}) {
		t.Errorf("テスト失敗: predicted=%v", predicted)
	}

	flags, err := scorer.IsAnomalousBatch(xs, []int{0, 1, 1, 0}, p)
	if err != nil {
		panic(err)
	}
	if !slices.Equal(flags, []bool{false, true, false, true}) {
		t.Errorf("テスト失敗: flags=%v", flags)
	}

	lkds, err := scorer.LikelihoodBatch(xs, []int{0, 0, 1, 1}, p)
	if err != nil {
		panic(err)
	}
	wants := []float32{1.0, math32.Exp(-1.0), math32.Exp(-1.0), 1.0}
	for i := range lkds {
		if diff := math32.Abs(lkds[i] - wants[i]); diff > 1e-6 {
			t.Errorf("テスト失敗: i=%d lkd=%v want=%v", i, lkds[i], wants[i])
		}
	}

	rate, err := scorer.AnomalyRate(xs, []int{0, 1, 1, 0}, p)
	if err != nil {
		panic(err)
	}
	if rate != 0.5 {
		t.Errorf("テスト失敗: rate=%v", rate)
	}

	rate, err = scorer.AnomalyRate(xs, []int{0, 0, 1, 1}, p)
	if err != nil {
		panic(err)
	}
	if rate != 0.0 {
		t.Errorf("テスト失敗: rate=%v", rate)
	}
}

func TestScorerBatchValidation(t *testing.T) {
	scorer := newScorerForTest()
	xs := []blas32.Vector{newVector(0.0, 0.0)}

	if _, err := scorer.IsAnomalousBatch(xs, []int{0, 1}, 2); err == nil {
		t.Errorf("エラーが返されるべき")
	}
	if _, err := scorer.LikelihoodBatch(xs, []int{}, 2); err == nil {
		t.Errorf("エラーが返されるべき")
	}
	if _, err := scorer.AnomalyRate(xs, []int{0, 1}, 2); err == nil {
		t.Errorf("エラーが返されるべき")
	}
	if _, err := scorer.AnomalyRate([]blas32.Vector{}, []int{}, 2); err == nil {
		t.Errorf("エラーが返されるべき")
	}
}

func TestScorerExtractorError(t *testing.T) {
	scorer := newScorerForTest()
	scorer.Extractor = func(x blas32.Vector) (blas32.Vector, error) {
		return blas32.Vector{}, fmt.Errorf("特徴量の抽出に失敗しました。")
	}

	x := newVector(0.0, 0.0)
	if _, err := scorer.Predict(x); err == nil {
		t.Errorf("エラーが返されるべき")
	}
	if _, err := scorer.Likelihood(x, 0); err == nil {
		t.Errorf("エラーが返されるべき")
	}
	if _, err := scorer.PredictBatch([]blas32.Vector{x}, 2); err == nil {
		t.Errorf("エラーが返されるべき")
	}
	if _, err := scorer.AnomalyRate([]blas32.Vector{x}, []int{0}, 2); err == nil {
		t.Errorf("エラーが返されるべき")
	}
}

func TestScorerWithFullCov(t *testing.T) {
	rng := randx.NewPCGFromGlobalSeed()
	loss, err := lgm.NewFullCov(2, 2, 1.0, rng)
	if err != nil {
		panic(err)
	}
	loss.Parameter.Centers.Data = []float32{0.0, 0.0, 10.0, 10.0}

	// クラス1だけ分散を大きくしても、中心上の入力は正しく分類される
	loss.Parameter.LogCovs.Data = []float32{0.0, 0.0, 1.0, 1.0}

	scorer := anomaly.Scorer{
		Extractor: func(x blas32.Vector) (blas32.Vector, error) {
			return x, nil
		},
		Loss: &loss,
	}

	predicted, err := scorer.Predict(newVector(0.0, 0.0))
	if err != nil {
		panic(err)
	}
	if predicted != 0 {
		t.Errorf("テスト失敗: predicted=%d", predicted)
	}

	predicted, err = scorer.Predict(newVector(10.0, 10.0))
	if err != nil {
		panic(err)
	}
	if predicted != 1 {
		t.Errorf("テスト失敗: predicted=%d", predicted)
	}

	flag, err := scorer.IsAnomalous(newVector(0.5, 0.5), 1)
	if err != nil {
		panic(err)
	}
	if !flag {
		t.Errorf("テスト失敗")
	}
}
