package risk

import (
	"testing"
	"time"

	"paycore/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testRiskConfig() *config.RiskConfig {
	return &config.RiskConfig{
		SanctionedCountries: []string{"KP", "IR"},
		PEPUsers:            []int64{42},
		AMLReviewThreshold:  10000,
		SingleTxLimit:       50000,
		VelocityHourlyMax:   5,
		VelocityDailyMax:    20,
	}
}

func cleanOperation() *OperationContext {
	return &OperationContext{
		OperationID:    "op-1",
		UserID:         1,
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
		Timestamp:      time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		KYCVerified:    true,
		AccountAgeDays: 365,
		DeviceKnown:    true,
	}
}

func findCheck(report *ComplianceReport, checkType string) *ComplianceCheck {
	for i := range report.Checks {
		if report.Checks[i].CheckType == checkType {
			return &report.Checks[i]
		}
	}
	return nil
}

func TestComplianceAllPassed(t *testing.T) {
	checker := NewComplianceChecker(testRiskConfig())

	report := checker.Run(cleanOperation())
	assert.Equal(t, ComplianceStatusCompliant, report.OverallStatus)
	assert.Len(t, report.Checks, 6)
	for _, check := range report.Checks {
		assert.Equal(t, CheckStatusPassed, check.Status, check.CheckType)
	}
}

func TestComplianceKYCFailure(t *testing.T) {
	checker := NewComplianceChecker(testRiskConfig())

	op := cleanOperation()
	op.KYCVerified = false

	report := checker.Run(op)
	assert.Equal(t, ComplianceStatusNonCompliant, report.OverallStatus)
	assert.Equal(t, CheckStatusFailed, findCheck(report, CheckTypeKYC).Status)
}

func TestComplianceSanctionedCountry(t *testing.T) {
	checker := NewComplianceChecker(testRiskConfig())

	op := cleanOperation()
	op.RecipientCountry = "KP"

	report := checker.Run(op)
	assert.Equal(t, ComplianceStatusNonCompliant, report.OverallStatus)
	assert.Equal(t, CheckStatusFailed, findCheck(report, CheckTypeSanction).Status)
}

func TestComplianceAMLReviewIsSoft(t *testing.T) {
	checker := NewComplianceChecker(testRiskConfig())

	// 大额只标记审查，不硬拒
	op := cleanOperation()
	op.Amount = decimal.NewFromInt(50000)

	report := checker.Run(op)
	assert.Equal(t, ComplianceStatusReviewRequired, report.OverallStatus)
	assert.Equal(t, CheckStatusReviewRequired, findCheck(report, CheckTypeAML).Status)
}

func TestComplianceSingleTxHardLimit(t *testing.T) {
	checker := NewComplianceChecker(testRiskConfig())

	op := cleanOperation()
	op.Amount = decimal.NewFromInt(60000)

	report := checker.Run(op)
	assert.Equal(t, ComplianceStatusNonCompliant, report.OverallStatus)
	assert.Equal(t, CheckStatusFailed, findCheck(report, CheckTypeTxLimit).Status)
}

func TestCompliancePEPReview(t *testing.T) {
	checker := NewComplianceChecker(testRiskConfig())

	op := cleanOperation()
	op.UserID = 42

	report := checker.Run(op)
	assert.Equal(t, ComplianceStatusReviewRequired, report.OverallStatus)
	assert.Equal(t, CheckStatusReviewRequired, findCheck(report, CheckTypePEP).Status)
}

func TestComplianceVelocityReview(t *testing.T) {
	checker := NewComplianceChecker(testRiskConfig())

	op := cleanOperation()
	op.TxCountLastHour = 5

	report := checker.Run(op)
	assert.Equal(t, ComplianceStatusReviewRequired, report.OverallStatus)
	assert.Equal(t, CheckStatusReviewRequired, findCheck(report, CheckTypeVelocity).Status)
}

// failed 优先于 review_required
func TestComplianceFailedBeatsReview(t *testing.T) {
	checker := NewComplianceChecker(testRiskConfig())

	op := cleanOperation()
	op.Amount = decimal.NewFromInt(20000) // AML review
	op.RecipientCountry = "IR"            // sanctions failed

	report := checker.Run(op)
	assert.Equal(t, ComplianceStatusNonCompliant, report.OverallStatus)
}
