package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paycore/internal/config"
	"paycore/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrDailyLimitExceeded   = errors.New("超出日累计限额")
	ErrMonthlyLimitExceeded = errors.New("超出月累计限额")
)

// LimitService 滚动限额检查
// 日/月累计出账从流水表实时算，不单独维护计数器
type LimitService struct {
	transactionRepo *repository.TransactionRepository
	dailyLimit      decimal.Decimal
	monthlyLimit    decimal.Decimal
}

func NewLimitService(db *gorm.DB, cfg *config.BusinessConfig) *LimitService {
	return &LimitService{
		transactionRepo: repository.NewTransactionRepository(db),
		dailyLimit:      decimal.NewFromFloat(cfg.DailyLimit),
		monthlyLimit:    decimal.NewFromFloat(cfg.MonthlyLimit),
	}
}

// Check 校验本笔出账加上窗口内累计是否越限，累计按币种分开算
//
// 【关键点】tx 必须传记账用的同一个事务句柄，让累计读数和
// 随后的余额写入落在同一个快照上，否则并发提交可以绕过限额
func (s *LimitService) Check(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, currency string, asOf time.Time) error {
	startOfDay := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	dailySum, err := s.transactionRepo.SumCompletedDebits(ctx, tx, userID, currency, startOfDay, asOf)
	if err != nil {
		return fmt.Errorf("统计日累计出账失败: %w", err)
	}
	if dailySum.Add(amount).GreaterThan(s.dailyLimit) {
		return ErrDailyLimitExceeded
	}

	startOfMonth := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, asOf.Location())
	monthlySum, err := s.transactionRepo.SumCompletedDebits(ctx, tx, userID, currency, startOfMonth, asOf)
	if err != nil {
		return fmt.Errorf("统计月累计出账失败: %w", err)
	}
	if monthlySum.Add(amount).GreaterThan(s.monthlyLimit) {
		return ErrMonthlyLimitExceeded
	}

	return nil
}
