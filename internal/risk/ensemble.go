package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ensemble 策略集成器
// 并发跑所有已注册策略，按置信度加权平均出整体分；
// 集成器不关心注册了哪些、多少个策略
type Ensemble struct {
	strategies []Strategy
	logger     *zap.Logger
}

func NewEnsemble(logger *zap.Logger, strategies ...Strategy) *Ensemble {
	return &Ensemble{
		strategies: strategies,
		logger:     logger,
	}
}

// Evaluate 对一次候选操作做集成评分
//
// 策略是纯函数，直接并发执行；某个策略报错只剔除它自己，
// 其余策略的结果照常参与集成
func (e *Ensemble) Evaluate(ctx context.Context, op *OperationContext) *RiskAssessment {
	results := make([]*Prediction, len(e.strategies))

	var wg sync.WaitGroup
	for i, strategy := range e.strategies {
		wg.Add(1)
		go func(i int, strategy Strategy) {
			defer wg.Done()
			prediction, err := strategy.Score(op)
			if err != nil {
				e.logger.Warn("欺诈策略执行失败，剔除出本次集成",
					zap.String("strategy", strategy.ID()),
					zap.String("operation_id", op.OperationID),
					zap.Error(err))
				return
			}
			results[i] = prediction
		}(i, strategy)
	}
	wg.Wait()

	// 保持注册顺序收集，解释输出才能稳定
	predictions := make([]*Prediction, 0, len(results))
	for _, p := range results {
		if p != nil {
			predictions = append(predictions, p)
		}
	}

	assessment := &RiskAssessment{
		OperationID:    op.OperationID,
		StrategyScores: make(map[string]*Prediction, len(predictions)),
		AssessedAt:     time.Now(),
	}

	if len(predictions) == 0 {
		assessment.OverallScore = 0
		assessment.Level = LevelForScore(0)
		assessment.Recommendation = RecommendationAllow
		return assessment
	}

	// 置信度加权平均，四舍五入到整数
	weightedSum := decimal.Zero
	confidenceSum := decimal.Zero
	anyBlock := false
	anyReview := false
	for _, p := range predictions {
		assessment.StrategyScores[p.StrategyID] = p
		weightedSum = weightedSum.Add(decimal.NewFromInt(int64(p.Score)).Mul(p.Confidence))
		confidenceSum = confidenceSum.Add(p.Confidence)
		switch p.Recommendation {
		case RecommendationBlock:
			anyBlock = true
		case RecommendationReview:
			anyReview = true
		}
	}
	overall := int(weightedSum.Div(confidenceSum).Round(0).IntPart())

	assessment.OverallScore = overall
	assessment.Level = LevelForScore(overall)
	assessment.Explanations = explain(predictions)

	switch {
	case anyBlock || overall > 75:
		assessment.Recommendation = RecommendationBlock
	case anyReview || overall > 40:
		assessment.Recommendation = RecommendationReview
	default:
		assessment.Recommendation = RecommendationAllow
	}

	return assessment
}

// explain 按策略顺序取全部命中因子，去重后渲染成描述
func explain(predictions []*Prediction) []string {
	seen := make(map[string]struct{})
	var explanations []string
	for _, p := range predictions {
		for _, factor := range p.Factors {
			if _, ok := seen[factor]; ok {
				continue
			}
			seen[factor] = struct{}{}
			explanations = append(explanations, ExplainFactor(factor))
		}
	}
	return explanations
}
