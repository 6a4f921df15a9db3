package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestEnsemble() *Ensemble {
	cfg := testRiskConfig()
	return NewEnsemble(zap.NewNop(),
		NewVelocityStrategy(cfg),
		NewBehaviorStrategy(),
		NewNetworkStrategy(),
	)
}

func TestEnsembleCleanOperationAllows(t *testing.T) {
	ensemble := newTestEnsemble()

	assessment := ensemble.Evaluate(context.Background(), cleanOperation())
	assert.Equal(t, 0, assessment.OverallScore)
	assert.Equal(t, LevelLow, assessment.Level)
	assert.Equal(t, RecommendationAllow, assessment.Recommendation)
	assert.Len(t, assessment.StrategyScores, 3)
}

func TestEnsembleNoStrategies(t *testing.T) {
	ensemble := NewEnsemble(zap.NewNop())

	assessment := ensemble.Evaluate(context.Background(), cleanOperation())
	assert.Equal(t, 0, assessment.OverallScore)
	assert.Equal(t, RecommendationAllow, assessment.Recommendation)
}

func TestEnsembleBlocksHighRisk(t *testing.T) {
	ensemble := newTestEnsemble()

	// IP信誉3次命中 + Tor：network 策略得分封顶，单策略 block 决定整体
	op := cleanOperation()
	op.IPReputationHits = 3
	op.TorDetected = true

	assessment := ensemble.Evaluate(context.Background(), op)
	assert.Equal(t, RecommendationBlock, assessment.Recommendation)
	assert.GreaterOrEqual(t, assessment.StrategyScores["network"].Score, 80)
}

// 只命中 Tor 的操作：匿名网络基础分 25 + Tor 加权 40，单策略进 review
func TestNetworkTorOnlyTriggersReview(t *testing.T) {
	op := cleanOperation()
	op.TorDetected = true

	prediction, err := NewNetworkStrategy().Score(op)
	assert.NoError(t, err)
	assert.Equal(t, 65, prediction.Score)
	assert.Equal(t, RecommendationReview, prediction.Recommendation)
	assert.Contains(t, prediction.Factors, FactorAnonymizingNetwork)
	assert.Contains(t, prediction.Factors, FactorTorExit)
}

func TestEnsembleReviewOnModerateRisk(t *testing.T) {
	ensemble := newTestEnsemble()

	// 陌生设备 + 地理不一致 + 超短会话：behavior 60 分，触发 review
	op := cleanOperation()
	op.DeviceKnown = false
	op.GeoMismatch = true
	op.SessionDurationSec = 10

	assessment := ensemble.Evaluate(context.Background(), op)
	assert.Equal(t, RecommendationReview, assessment.Recommendation)
}

// 同一因子被多个策略命中时，解释只出现一次
func TestEnsembleExplanationsDeduplicated(t *testing.T) {
	ensemble := newTestEnsemble()

	op := cleanOperation()
	op.VPNDetected = true // behavior 和 network 都命中 anonymizing_network

	assessment := ensemble.Evaluate(context.Background(), op)

	count := 0
	for _, explanation := range assessment.Explanations {
		if explanation == ExplainFactor(FactorAnonymizingNetwork) {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

type failingStrategy struct{}

func (failingStrategy) ID() string { return "broken" }
func (failingStrategy) Score(op *OperationContext) (*Prediction, error) {
	return nil, errors.New("模型不可用")
}

// 单个策略失败只剔除它自己，其余照常集成
func TestEnsembleSkipsFailedStrategy(t *testing.T) {
	cfg := testRiskConfig()
	ensemble := NewEnsemble(zap.NewNop(),
		failingStrategy{},
		NewVelocityStrategy(cfg),
	)

	op := cleanOperation()
	op.TxCountLast24h = 25 // velocity 高频因子

	assessment := ensemble.Evaluate(context.Background(), op)
	assert.NotContains(t, assessment.StrategyScores, "broken")
	assert.Contains(t, assessment.StrategyScores, "velocity")
	assert.Equal(t, 30, assessment.OverallScore)
}

func TestLevelForScore(t *testing.T) {
	assert.Equal(t, LevelLow, LevelForScore(10))
	assert.Equal(t, LevelMedium, LevelForScore(30))
	assert.Equal(t, LevelHigh, LevelForScore(60))
	assert.Equal(t, LevelCritical, LevelForScore(80))
}

func TestConfidenceGrowsWithFactors(t *testing.T) {
	assert.True(t, confidenceFor(0).Equal(decimal.NewFromFloat(0.3)))
	assert.True(t, confidenceFor(1).Equal(decimal.NewFromFloat(0.6)))
	assert.True(t, confidenceFor(3).Equal(decimal.NewFromFloat(0.8)))
	assert.True(t, confidenceFor(10).Equal(decimal.NewFromFloat(0.95)))
}
