package service

import (
	"context"
	"sync"
	"testing"

	"paycore/internal/model"
	"paycore/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 内存 sqlite，单连接串行化，避免 :memory: 的并发问题
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Account{},
		&model.Transaction{},
		&model.Payment{},
		&model.OutboxMessage{},
	))
	return db
}

func newTestLedger(t *testing.T) (*LedgerService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewLedgerService(db, zap.NewNop()), db
}

func depositFunds(t *testing.T, ledger *LedgerService, userID int64, currency string, amount float64) {
	t.Helper()
	_, err := ledger.Deposit(context.Background(), userID, currency,
		decimal.NewFromFloat(amount), "seed-"+currency)
	require.NoError(t, err)
}

func TestApplyDebitAndCredit(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 100)

	result, err := ledger.Apply(ctx, &LedgerOperation{
		UserID:         1,
		Direction:      model.DirectionDebit,
		Amount:         decimal.NewFromInt(30),
		Currency:       "USD",
		Category:       model.CategoryPayment,
		IdempotencyKey: "pay-1",
	})
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(70)))

	account, err := ledger.GetAccount(ctx, 1, "USD")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(70)))
}

func TestApplyIdempotentReplay(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 100)

	op := &LedgerOperation{
		UserID:         1,
		Direction:      model.DirectionDebit,
		Amount:         decimal.NewFromInt(40),
		Currency:       "USD",
		Category:       model.CategoryPayment,
		IdempotencyKey: "pay-once",
	}

	first, err := ledger.Apply(ctx, op)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	// 重复提交：返回首次结果，余额只扣一次
	second, err := ledger.Apply(ctx, op)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionNo, second.TransactionNo)
	assert.True(t, second.NewBalance.Equal(first.NewBalance))

	account, err := ledger.GetAccount(ctx, 1, "USD")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(60)))
}

func TestApplyInsufficientFunds(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 50)

	_, err := ledger.Apply(ctx, &LedgerOperation{
		UserID:         1,
		Direction:      model.DirectionDebit,
		Amount:         decimal.NewFromInt(80),
		Currency:       "USD",
		Category:       model.CategoryPayment,
		IdempotencyKey: "pay-too-much",
	})
	assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	// 失败不留痕：余额不变，也没有流水
	account, err := ledger.GetAccount(ctx, 1, "USD")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(50)))

	validation, err := ledger.ValidateBalance(ctx, 1, "USD")
	require.NoError(t, err)
	assert.True(t, validation.IsValid)
}

func TestApplyRejectsNonPositiveAmount(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Apply(context.Background(), &LedgerOperation{
		UserID:         1,
		Direction:      model.DirectionDebit,
		Amount:         decimal.Zero,
		Currency:       "USD",
		Category:       model.CategoryPayment,
		IdempotencyKey: "zero",
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyInactiveAccount(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 100)
	require.NoError(t, repository.NewAccountRepository(db).Deactivate(ctx, 1, "USD"))

	_, err := ledger.Apply(ctx, &LedgerOperation{
		UserID:         1,
		Direction:      model.DirectionDebit,
		Amount:         decimal.NewFromInt(10),
		Currency:       "USD",
		Category:       model.CategoryPayment,
		IdempotencyKey: "inactive",
	})
	assert.ErrorIs(t, err, repository.ErrAccountInactive)
}

func TestTransferMovesBothBalances(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 200)
	depositFunds(t, ledger, 2, "USD", 50)

	result, err := ledger.Transfer(ctx, &TransferOperation{
		FromUserID:     1,
		ToUserID:       2,
		Amount:         decimal.NewFromInt(75),
		Currency:       "USD",
		IdempotencyKey: "transfer-1",
	})
	require.NoError(t, err)
	assert.True(t, result.FromBalance.Equal(decimal.NewFromInt(125)))
	assert.True(t, result.ToBalance.Equal(decimal.NewFromInt(125)))

	// 两侧账本都能对上
	for _, userID := range []int64{1, 2} {
		validation, err := ledger.ValidateBalance(ctx, userID, "USD")
		require.NoError(t, err)
		assert.True(t, validation.IsValid, "user %d 对账失败", userID)
	}
}

func TestTransferToSelf(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Transfer(context.Background(), &TransferOperation{
		FromUserID:     1,
		ToUserID:       1,
		Amount:         decimal.NewFromInt(10),
		Currency:       "USD",
		IdempotencyKey: "self",
	})
	assert.ErrorIs(t, err, ErrSameAccount)
}

func TestTransferInsufficientLeavesRecipientUntouched(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 30)
	depositFunds(t, ledger, 2, "USD", 10)

	_, err := ledger.Transfer(ctx, &TransferOperation{
		FromUserID:     1,
		ToUserID:       2,
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
		IdempotencyKey: "transfer-fail",
	})
	assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	from, err := ledger.GetAccount(ctx, 1, "USD")
	require.NoError(t, err)
	to, err := ledger.GetAccount(ctx, 2, "USD")
	require.NoError(t, err)
	assert.True(t, from.Balance.Equal(decimal.NewFromInt(30)))
	assert.True(t, to.Balance.Equal(decimal.NewFromInt(10)))
}

func TestTransferIdempotentReplay(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 100)
	_, err := ledger.GetAccount(ctx, 2, "USD")
	require.NoError(t, err)

	op := &TransferOperation{
		FromUserID:     1,
		ToUserID:       2,
		Amount:         decimal.NewFromInt(25),
		Currency:       "USD",
		IdempotencyKey: "transfer-once",
	}

	first, err := ledger.Transfer(ctx, op)
	require.NoError(t, err)
	second, err := ledger.Transfer(ctx, op)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionNo, second.TransactionNo)

	from, err := ledger.GetAccount(ctx, 1, "USD")
	require.NoError(t, err)
	assert.True(t, from.Balance.Equal(decimal.NewFromInt(75)))
}

// 双花防护：两笔并发扣款合计超出余额时，最多一笔成功
func TestConcurrentDebitsNoDoubleSpend(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Apply(ctx, &LedgerOperation{
				UserID:         1,
				Direction:      model.DirectionDebit,
				Amount:         decimal.NewFromInt(60),
				Currency:       "USD",
				Category:       model.CategoryPayment,
				IdempotencyKey: "race-" + string(rune('a'+i)),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.LessOrEqual(t, succeeded, 1)

	account, err := ledger.GetAccount(ctx, 1, "USD")
	require.NoError(t, err)
	assert.False(t, account.Balance.IsNegative())

	validation, err := ledger.ValidateBalance(ctx, 1, "USD")
	require.NoError(t, err)
	assert.True(t, validation.IsValid)
}

// 绕过账本直接改余额后，重放对账必须能发现差异
func TestValidateBalanceDetectsDrift(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()

	depositFunds(t, ledger, 1, "USD", 100)

	require.NoError(t, db.Model(&model.Account{}).
		Where("user_id = ? AND currency = ?", 1, "USD").
		Update("balance", decimal.NewFromInt(999)).Error)

	validation, err := ledger.ValidateBalance(ctx, 1, "USD")
	require.NoError(t, err)
	assert.False(t, validation.IsValid)
	assert.True(t, validation.Discrepancy.Equal(decimal.NewFromInt(899)))
}
