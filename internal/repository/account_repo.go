package repository

import (
	"context"
	"errors"

	"paycore/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrAccountInactive  = errors.New("账户已停用")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) Get(ctx context.Context, tx *gorm.DB, userID int64, currency string) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("currency ASC").
		Find(&accounts).Error
	return accounts, err
}

// Deduct 条件扣减余额
//
// 【关键点】WHERE 同时带上 balance >= amount 和 version = expected，
// 两个并发扣款最多只有一个能命中该行，从数据库层面挡掉双花：
//   - 余额不够 -> 影响行数为 0，再查一次区分"余额不足"和"版本冲突"
//   - 版本被别人先改了 -> 影响行数为 0，调用方按乐观锁冲突重试
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount decimal.Decimal, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND currency = ? AND active = ? AND balance >= ? AND version = ?",
			userID, currency, true, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.Get(ctx, tx, userID, currency)
		if err != nil {
			return err
		}
		if !account.Active {
			return ErrAccountInactive
		}
		if account.Balance.LessThan(amount) {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// Increase 入账
// 入账没有余额约束，但同样推进版本号，保证版本计数单调
func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND currency = ? AND active = ?", userID, currency, true).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.Get(ctx, tx, userID, currency)
		if err != nil {
			return err
		}
		if !account.Active {
			return ErrAccountInactive
		}
		return ErrAccountNotFound
	}

	return nil
}

// GetOrCreate 不存在则建零余额账户，并发安全（唯一索引冲突时静默忽略后重查）
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64, currency string) (*model.Account, error) {
	account, err := r.Get(ctx, nil, userID, currency)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID:   userID,
		Currency: currency,
		Balance:  decimal.Zero,
		Active:   true,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.Get(ctx, nil, userID, currency)
}

// Deactivate 停用账户（账户从不删除）
func (r *AccountRepository) Deactivate(ctx context.Context, userID int64, currency string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND currency = ?", userID, currency).
		Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
