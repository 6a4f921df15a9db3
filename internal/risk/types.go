// Package risk 实现支付准入的风控闸门：合规检查 + 欺诈策略集成评分
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// 风险等级
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// 准入建议
const (
	RecommendationAllow  = "allow"
	RecommendationReview = "review" // 放行但进入人工审计名单
	RecommendationBlock  = "block"
)

// 合规单项检查状态
const (
	CheckStatusPassed         = "passed"
	CheckStatusFailed         = "failed"
	CheckStatusReviewRequired = "review_required"
)

// 合规整体结论
const (
	ComplianceStatusCompliant      = "compliant"
	ComplianceStatusNonCompliant   = "non_compliant"
	ComplianceStatusReviewRequired = "review_required"
)

// 合规检查类型
const (
	CheckTypeKYC      = "kyc"
	CheckTypeAML      = "aml"
	CheckTypeSanction = "sanctions"
	CheckTypePEP      = "pep"
	CheckTypeTxLimit  = "tx_limit"
	CheckTypeVelocity = "velocity"
)

// OperationContext 一次候选操作的风控输入
// 策略是输入的纯函数，所有信号都在这里备齐：
// 历史类信号由协调器从存储计算，端侧信号由接入层透传
type OperationContext struct {
	OperationID      string
	UserID           int64
	RecipientID      *int64
	Amount           decimal.Decimal
	Currency         string
	RecipientCountry string // 收款方国家/地区代码
	CrossBorder      bool
	Timestamp        time.Time

	// 用户画像与历史
	KYCVerified        bool
	AccountAgeDays     int
	TxCountLastHour    int
	TxCountLast24h     int
	AvgDebitAmount     decimal.Decimal // 历史出账均值，无历史时为 0
	FirstTimeRecipient bool

	// 端侧信号
	DeviceKnown        bool
	GeoMismatch        bool
	VPNDetected        bool
	TorDetected        bool
	ProxyDetected      bool
	SessionDurationSec int
	IPReputationHits   int
	CountriesAccessed  int // 账户生命周期内出现过的不同访问国家数
	UserAgentMismatch  bool
}

// ComplianceCheck 单项合规检查结果
type ComplianceCheck struct {
	CheckType string `json:"check_type"`
	Status    string `json:"status"`
	Details   string `json:"details"`
}

// ComplianceReport 一次操作的合规报告，逐笔生成，不落账本
type ComplianceReport struct {
	UserID        int64             `json:"user_id"`
	Checks        []ComplianceCheck `json:"checks"`
	OverallStatus string            `json:"overall_status"`
}

// Prediction 单个欺诈策略的评分输出
type Prediction struct {
	StrategyID     string          `json:"strategy_id"`
	Score          int             `json:"score"`      // 0-100
	Confidence     decimal.Decimal `json:"confidence"` // 0-1，命中因子越多置信度越高
	Factors        []string        `json:"factors"`
	Recommendation string          `json:"recommendation"`
}

// RiskAssessment 集成评分结果，逐笔生成，不落账本
type RiskAssessment struct {
	OperationID    string                 `json:"operation_id"`
	OverallScore   int                    `json:"overall_score"` // 0-100
	Level          string                 `json:"level"`
	StrategyScores map[string]*Prediction `json:"strategy_scores"`
	Recommendation string                 `json:"recommendation"`
	Explanations   []string               `json:"explanations"`
	AssessedAt     time.Time              `json:"assessed_at"`
}

// LevelForScore 风险等级分档
func LevelForScore(score int) string {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}
