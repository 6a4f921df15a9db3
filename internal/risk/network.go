package risk

// 新账户（90天内）允许出现的不同访问国家数
const maxCountriesYoungAccount = 3

// NetworkStrategy 网络类欺诈策略
// 看IP信誉、访问国家分布、匿名网络和设备指纹一致性
type NetworkStrategy struct{}

func NewNetworkStrategy() *NetworkStrategy {
	return &NetworkStrategy{}
}

func (s *NetworkStrategy) ID() string {
	return "network"
}

func (s *NetworkStrategy) Score(op *OperationContext) (*Prediction, error) {
	score := 0
	var factors []string

	if op.IPReputationHits > 0 {
		score += 20 * op.IPReputationHits
		factors = append(factors, FactorIPReputation)
	}

	if op.AccountAgeDays < 90 && op.CountriesAccessed > maxCountriesYoungAccount {
		score += 30
		factors = append(factors, FactorManyCountries)
	}

	// Tor 本身就是匿名网络，先计基础分再额外加权
	if op.VPNDetected || op.ProxyDetected || op.TorDetected {
		score += 25
		factors = append(factors, FactorAnonymizingNetwork)
	}
	if op.TorDetected {
		score += 40
		factors = append(factors, FactorTorExit)
	}

	if op.UserAgentMismatch {
		score += 15
		factors = append(factors, FactorFingerprintMismatch)
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
