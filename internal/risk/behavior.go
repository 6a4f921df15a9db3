package risk

import (
	"github.com/shopspring/decimal"
)

// 向首次收款人转账被视为大额的金额下限
var largeRecipientAmount = decimal.NewFromInt(1000)

// 会话时长低于该秒数视为异常
const shortSessionSeconds = 30

// BehaviorStrategy 行为类欺诈策略
// 看设备环境、地理位置、匿名网络、会话时长和收款人关系
type BehaviorStrategy struct{}

func NewBehaviorStrategy() *BehaviorStrategy {
	return &BehaviorStrategy{}
}

func (s *BehaviorStrategy) ID() string {
	return "behavioral"
}

func (s *BehaviorStrategy) Score(op *OperationContext) (*Prediction, error) {
	score := 0
	var factors []string

	if !op.DeviceKnown {
		score += 20
		factors = append(factors, FactorUnfamiliarDevice)
	}

	if op.GeoMismatch {
		score += 25
		factors = append(factors, FactorGeoMismatch)
	}

	if op.VPNDetected || op.TorDetected || op.ProxyDetected {
		score += 35
		factors = append(factors, FactorAnonymizingNetwork)
	}

	if op.SessionDurationSec > 0 && op.SessionDurationSec < shortSessionSeconds {
		score += 15
		factors = append(factors, FactorShortSession)
	}

	if op.FirstTimeRecipient && op.Amount.GreaterThanOrEqual(largeRecipientAmount) {
		score += 20
		factors = append(factors, FactorLargeFirstRecipient)
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
