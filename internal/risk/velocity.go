package risk

import (
	"paycore/internal/config"

	"github.com/shopspring/decimal"
)

// VelocityStrategy 速率类欺诈策略
// 看交易频率、金额突变、交易时段和新账户跨境四类信号
type VelocityStrategy struct {
	cfg *config.RiskConfig
}

func NewVelocityStrategy(cfg *config.RiskConfig) *VelocityStrategy {
	return &VelocityStrategy{cfg: cfg}
}

func (s *VelocityStrategy) ID() string {
	return "velocity"
}

func (s *VelocityStrategy) Score(op *OperationContext) (*Prediction, error) {
	score := 0
	var factors []string

	if op.TxCountLast24h > s.cfg.VelocityDailyMax {
		score += 30
		factors = append(factors, FactorHighFrequency)
	}

	// 金额超过历史均值5倍；没有历史的新户不触发该因子
	if op.AvgDebitAmount.IsPositive() &&
		op.Amount.GreaterThan(op.AvgDebitAmount.Mul(decimal.NewFromInt(5))) {
		score += 25
		factors = append(factors, FactorAmountSpike)
	}

	hour := op.Timestamp.Hour()
	if hour < 6 || hour >= 23 {
		score += 15
		factors = append(factors, FactorOddHour)
	}

	if op.CrossBorder && op.AccountAgeDays < 30 {
		score += 20
		factors = append(factors, FactorYoungCrossBorder)
	}

	score = capScore(score)
	return &Prediction{
		StrategyID:     s.ID(),
		Score:          score,
		Confidence:     confidenceFor(len(factors)),
		Factors:        factors,
		Recommendation: recommendationFor(score),
	}, nil
}
