package risk

import (
	"fmt"

	"paycore/internal/config"

	"github.com/shopspring/decimal"
)

// ComplianceChecker 合规检查器
// 制裁名单、PEP 名单等全部来自注入的配置，检查之间相互独立，
// 顺序只影响 checks 列表的排列，不影响结论
type ComplianceChecker struct {
	cfg        *config.RiskConfig
	sanctioned map[string]struct{}
	pepUsers   map[int64]struct{}
}

func NewComplianceChecker(cfg *config.RiskConfig) *ComplianceChecker {
	sanctioned := make(map[string]struct{}, len(cfg.SanctionedCountries))
	for _, country := range cfg.SanctionedCountries {
		sanctioned[country] = struct{}{}
	}
	pepUsers := make(map[int64]struct{}, len(cfg.PEPUsers))
	for _, userID := range cfg.PEPUsers {
		pepUsers[userID] = struct{}{}
	}
	return &ComplianceChecker{
		cfg:        cfg,
		sanctioned: sanctioned,
		pepUsers:   pepUsers,
	}
}

// Run 执行全部合规检查
//
// 结论优先级：任一 failed => non_compliant（直接拒绝）；
// 否则任一 review_required => review_required（放行但进人工审计）；
// 否则 compliant
func (c *ComplianceChecker) Run(op *OperationContext) *ComplianceReport {
	checks := []ComplianceCheck{
		c.checkKYC(op),
		c.checkAML(op),
		c.checkSanctions(op),
		c.checkPEP(op),
		c.checkTxLimit(op),
		c.checkVelocity(op),
	}

	overall := ComplianceStatusCompliant
	for _, check := range checks {
		if check.Status == CheckStatusFailed {
			overall = ComplianceStatusNonCompliant
			break
		}
		if check.Status == CheckStatusReviewRequired {
			overall = ComplianceStatusReviewRequired
		}
	}

	return &ComplianceReport{
		UserID:        op.UserID,
		Checks:        checks,
		OverallStatus: overall,
	}
}

func (c *ComplianceChecker) checkKYC(op *OperationContext) ComplianceCheck {
	if !op.KYCVerified {
		return ComplianceCheck{
			CheckType: CheckTypeKYC,
			Status:    CheckStatusFailed,
			Details:   "用户未完成实名认证",
		}
	}
	return ComplianceCheck{CheckType: CheckTypeKYC, Status: CheckStatusPassed, Details: "实名认证已通过"}
}

// checkAML 大额交易审查
// 超过阈值只标记 review_required，从不硬拒
func (c *ComplianceChecker) checkAML(op *OperationContext) ComplianceCheck {
	threshold := decimal.NewFromFloat(c.cfg.AMLReviewThreshold)
	if threshold.IsPositive() && op.Amount.GreaterThan(threshold) {
		return ComplianceCheck{
			CheckType: CheckTypeAML,
			Status:    CheckStatusReviewRequired,
			Details:   fmt.Sprintf("交易金额 %s 超过大额审查阈值 %s", op.Amount.String(), threshold.String()),
		}
	}
	return ComplianceCheck{CheckType: CheckTypeAML, Status: CheckStatusPassed, Details: "金额在阈值以内"}
}

func (c *ComplianceChecker) checkSanctions(op *OperationContext) ComplianceCheck {
	if op.RecipientCountry != "" {
		if _, hit := c.sanctioned[op.RecipientCountry]; hit {
			return ComplianceCheck{
				CheckType: CheckTypeSanction,
				Status:    CheckStatusFailed,
				Details:   fmt.Sprintf("收款方所在地 %s 在制裁名单内", op.RecipientCountry),
			}
		}
	}
	return ComplianceCheck{CheckType: CheckTypeSanction, Status: CheckStatusPassed, Details: "收款方所在地不在制裁名单内"}
}

func (c *ComplianceChecker) checkPEP(op *OperationContext) ComplianceCheck {
	if _, hit := c.pepUsers[op.UserID]; hit {
		return ComplianceCheck{
			CheckType: CheckTypePEP,
			Status:    CheckStatusReviewRequired,
			Details:   "付款方在政治公众人物名单内",
		}
	}
	return ComplianceCheck{CheckType: CheckTypePEP, Status: CheckStatusPassed, Details: "付款方不在政治公众人物名单内"}
}

func (c *ComplianceChecker) checkTxLimit(op *OperationContext) ComplianceCheck {
	limit := decimal.NewFromFloat(c.cfg.SingleTxLimit)
	if limit.IsPositive() && op.Amount.GreaterThan(limit) {
		return ComplianceCheck{
			CheckType: CheckTypeTxLimit,
			Status:    CheckStatusFailed,
			Details:   fmt.Sprintf("交易金额 %s 超过单笔上限 %s", op.Amount.String(), limit.String()),
		}
	}
	return ComplianceCheck{CheckType: CheckTypeTxLimit, Status: CheckStatusPassed, Details: "金额在单笔上限以内"}
}

// checkVelocity 近1小时操作次数检查，超限只标记不拦截
func (c *ComplianceChecker) checkVelocity(op *OperationContext) ComplianceCheck {
	max := c.cfg.VelocityHourlyMax
	if max <= 0 {
		max = 5
	}
	if op.TxCountLastHour >= max {
		return ComplianceCheck{
			CheckType: CheckTypeVelocity,
			Status:    CheckStatusReviewRequired,
			Details:   fmt.Sprintf("近1小时操作 %d 次，达到阈值 %d", op.TxCountLastHour, max),
		}
	}
	return ComplianceCheck{CheckType: CheckTypeVelocity, Status: CheckStatusPassed, Details: "操作频率正常"}
}
