package risk

import (
	"github.com/shopspring/decimal"
)

// Strategy 欺诈评分策略
// 策略必须是 OperationContext 的纯函数：无共享可变状态，可以并发执行，
// 单个策略失败只会被剔除出集成结果，不会让整次评估失败
type Strategy interface {
	ID() string
	Score(op *OperationContext) (*Prediction, error)
}

// 风险因子标识，explanations 表按此渲染人类可读描述
const (
	FactorHighFrequency       = "high_frequency"
	FactorAmountSpike         = "amount_spike"
	FactorOddHour             = "odd_hour"
	FactorYoungCrossBorder    = "young_account_cross_border"
	FactorUnfamiliarDevice    = "unfamiliar_device"
	FactorGeoMismatch         = "geo_mismatch"
	FactorAnonymizingNetwork  = "anonymizing_network"
	FactorShortSession        = "short_session"
	FactorLargeFirstRecipient = "large_first_time_recipient"
	FactorIPReputation        = "ip_reputation"
	FactorManyCountries       = "many_countries"
	FactorTorExit             = "tor_exit"
	FactorFingerprintMismatch = "fingerprint_mismatch"
)

// factorExplanations 因子 -> 描述 的固定查表，解释输出只从这里取
var factorExplanations = map[string]string{
	FactorHighFrequency:       "24小时内交易次数超过阈值",
	FactorAmountSpike:         "交易金额超过历史均值的5倍",
	FactorOddHour:             "交易发生在非常规时段（23:00-06:00）",
	FactorYoungCrossBorder:    "开户不足30天的账户发起跨境交易",
	FactorUnfamiliarDevice:    "陌生设备与环境组合",
	FactorGeoMismatch:         "登录地理位置与常用位置不一致",
	FactorAnonymizingNetwork:  "检测到匿名网络（VPN/代理）",
	FactorShortSession:        "会话时长异常偏短",
	FactorLargeFirstRecipient: "向首次出现的收款人发起大额交易",
	FactorIPReputation:        "IP信誉库命中",
	FactorManyCountries:       "新账户生命周期内出现过多访问国家",
	FactorTorExit:             "检测到Tor出口节点",
	FactorFingerprintMismatch: "User-Agent与设备指纹不一致",
}

// ExplainFactor 渲染单个因子的描述，未登记的因子原样返回
func ExplainFactor(factor string) string {
	if s, ok := factorExplanations[factor]; ok {
		return s
	}
	return factor
}

// capScore 策略得分封顶 100
func capScore(score int) int {
	if score > 100 {
		return 100
	}
	return score
}

// confidenceFor 置信度随命中因子数上升：无命中 0.3，每个因子 +0.1，上限 0.95
func confidenceFor(factorCount int) decimal.Decimal {
	if factorCount == 0 {
		return decimal.NewFromFloat(0.3)
	}
	c := 0.5 + 0.1*float64(factorCount)
	if c > 0.95 {
		c = 0.95
	}
	return decimal.NewFromFloat(c)
}

// recommendationFor 单策略建议分档
func recommendationFor(score int) string {
	switch {
	case score >= 80:
		return RecommendationBlock
	case score >= 50:
		return RecommendationReview
	default:
		return RecommendationAllow
	}
}
