package service

import (
	"context"
	"testing"
	"time"

	"paycore/internal/config"
	"paycore/internal/model"
	"paycore/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestLimits(t *testing.T) (*LimitService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewLimitService(db, &config.BusinessConfig{
		DailyLimit:   1000,
		MonthlyLimit: 10000,
	}), db
}

// seedDebit 直接落一笔已完成出账流水，created_at 可指定
func seedDebit(t *testing.T, db *gorm.DB, userID int64, amount float64, currency string, createdAt time.Time) {
	t.Helper()
	completedAt := createdAt
	trans := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		Direction:     model.DirectionDebit,
		Amount:        decimal.NewFromFloat(amount),
		Currency:      currency,
		Category:      model.CategoryPayment,
		Status:        model.TransactionStatusCompleted,
		ContentHash:   idgen.GenerateTransactionNo(),
		CompletedAt:   &completedAt,
		CreatedAt:     createdAt,
	}
	require.NoError(t, db.Create(trans).Error)
}

func TestDailyLimit(t *testing.T) {
	limits, db := newTestLimits(t)
	ctx := context.Background()
	now := time.Now()

	// 今天已出账 950，再出 100 越过 1000 限额
	seedDebit(t, db, 1, 950, "USD", now.Add(-2*time.Hour))

	err := limits.Check(ctx, nil, 1, decimal.NewFromInt(100), "USD", now)
	assert.ErrorIs(t, err, ErrDailyLimitExceeded)

	// 刚好到 1000 不算越限
	assert.NoError(t, limits.Check(ctx, nil, 1, decimal.NewFromInt(50), "USD", now))
}

func TestDailyLimitIgnoresYesterday(t *testing.T) {
	limits, db := newTestLimits(t)
	ctx := context.Background()
	now := time.Now()

	// 昨天的出账不占今天的日限额（但占月限额）
	seedDebit(t, db, 1, 950, "USD", now.Add(-26*time.Hour))

	assert.NoError(t, limits.Check(ctx, nil, 1, decimal.NewFromInt(900), "USD", now))
}

func TestMonthlyLimit(t *testing.T) {
	limits, db := newTestLimits(t)
	ctx := context.Background()

	// 固定用月中的时间，保证月初的流水和当前时刻在同一个月
	now := time.Date(time.Now().Year(), time.Now().Month(), 15, 12, 0, 0, 0, time.Local)
	startOfMonth := time.Date(now.Year(), now.Month(), 2, 10, 0, 0, 0, time.Local)

	// 本月累计 9500，当日为 0：日限额不拦，月限额拦
	seedDebit(t, db, 1, 950, "USD", startOfMonth)
	for i := 0; i < 9; i++ {
		seedDebit(t, db, 1, 950, "USD", startOfMonth.Add(time.Duration(i+1)*24*time.Hour))
	}

	err := limits.Check(ctx, nil, 1, decimal.NewFromInt(600), "USD", now)
	assert.ErrorIs(t, err, ErrMonthlyLimitExceeded)

	assert.NoError(t, limits.Check(ctx, nil, 1, decimal.NewFromInt(400), "USD", now))
}

func TestLimitOnlyCountsCompletedDebits(t *testing.T) {
	limits, db := newTestLimits(t)
	ctx := context.Background()
	now := time.Now()

	// 入账和未完成的出账都不占限额
	credit := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        1,
		Direction:     model.DirectionCredit,
		Amount:        decimal.NewFromInt(5000),
		Currency:      "USD",
		Category:      model.CategoryDeposit,
		Status:        model.TransactionStatusCompleted,
		ContentHash:   idgen.GenerateTransactionNo(),
		CreatedAt:     now.Add(-time.Hour),
	}
	require.NoError(t, db.Create(credit).Error)

	pending := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        1,
		Direction:     model.DirectionDebit,
		Amount:        decimal.NewFromInt(900),
		Currency:      "USD",
		Category:      model.CategoryPayment,
		Status:        model.TransactionStatusPending,
		ContentHash:   idgen.GenerateTransactionNo(),
		CreatedAt:     now.Add(-time.Hour),
	}
	require.NoError(t, db.Create(pending).Error)

	assert.NoError(t, limits.Check(ctx, nil, 1, decimal.NewFromInt(1000), "USD", now))
}

// 不同币种各算各的额度，金额不能跨币种直接相加
func TestLimitScopedToCurrency(t *testing.T) {
	limits, db := newTestLimits(t)
	ctx := context.Background()
	now := time.Now()

	// 今天出过 950 JPY，不占 USD 的日限额
	seedDebit(t, db, 1, 950, "JPY", now.Add(-2*time.Hour))

	assert.NoError(t, limits.Check(ctx, nil, 1, decimal.NewFromInt(900), "USD", now))
	assert.ErrorIs(t, limits.Check(ctx, nil, 1, decimal.NewFromInt(100), "JPY", now),
		ErrDailyLimitExceeded)
}

// 冲正出账是收到的入账被回退，不算用户自己的消费
func TestLimitIgnoresReversalDebits(t *testing.T) {
	limits, db := newTestLimits(t)
	ctx := context.Background()
	now := time.Now()

	completedAt := now.Add(-time.Hour)
	reversal := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        1,
		Direction:     model.DirectionDebit,
		Amount:        decimal.NewFromInt(950),
		Currency:      "USD",
		Category:      model.CategoryReversal,
		Status:        model.TransactionStatusCompleted,
		ContentHash:   idgen.GenerateTransactionNo(),
		CompletedAt:   &completedAt,
		CreatedAt:     completedAt,
	}
	require.NoError(t, db.Create(reversal).Error)

	assert.NoError(t, limits.Check(ctx, nil, 1, decimal.NewFromInt(1000), "USD", now))
}
