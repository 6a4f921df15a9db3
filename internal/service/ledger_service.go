package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"paycore/internal/model"
	"paycore/internal/repository"
	"paycore/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount    = errors.New("金额必须大于0")
	ErrSameAccount      = errors.New("不能给自己转账")
	ErrInvalidDirection = errors.New("未知的资金方向")
)

// 乐观锁冲突时的重试上限
const applyMaxRetries = 3

// 对账容差：重放余额与账面余额的差异低于该值视为一致
var reconcileEpsilon = decimal.NewFromFloat(0.01)

// ============================================================================
// 账本服务
// ============================================================================
//
// 【关键点】LedgerService 是整个系统里唯一允许改余额的地方
//
// 1. 并发安全：余额的读-改-写走乐观锁（version 列 + 条件 UPDATE），
//    两笔并发扣款不可能都按扣款前的余额判定通过 —— 数据库只让一个命中
// 2. 幂等：记账前先算 content_hash，同账户已有同哈希的已完成流水时
//    直接返回当时的结果，at-least-once 的调用方可以安全重试
// 3. 原子转账：付款方扣款和收款方入账在同一个数据库事务里，
//    要么都可见要么都不可见
type LedgerService struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	logger          *zap.Logger
}

func NewLedgerService(db *gorm.DB, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		logger:          logger,
	}
}

// LedgerOperation 一次单账户记账请求
type LedgerOperation struct {
	UserID         int64
	CounterpartyID *int64
	Direction      string // model.DirectionCredit / model.DirectionDebit
	Amount         decimal.Decimal
	Currency       string
	Category       string
	Description    string
	IdempotencyKey string
	ReversalOf     *int64 // 冲正时指向原流水
}

// ApplyResult 记账结果
type ApplyResult struct {
	TransactionNo string          `json:"transaction_no"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Duplicate     bool            `json:"duplicate"` // 幂等重放命中，返回的是历史结果
}

// TransferOperation 同币种原子转账请求
type TransferOperation struct {
	FromUserID     int64
	ToUserID       int64
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
}

// TransferResult 转账结果
type TransferResult struct {
	TransactionNo string          `json:"transaction_no"`
	FromBalance   decimal.Decimal `json:"from_balance"`
	ToBalance     decimal.Decimal `json:"to_balance"`
	Duplicate     bool            `json:"duplicate"`
}

// ContentHash 操作内容的确定性指纹：账户+金额+币种+幂等键
func ContentHash(userID int64, amount decimal.Decimal, currency, idempotencyKey string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s",
		userID, amount.StringFixed(2), currency, idempotencyKey)))
	return hex.EncodeToString(h[:])
}

// Apply 独立事务记账，乐观锁冲突自动重试
func (s *LedgerService) Apply(ctx context.Context, op *LedgerOperation) (*ApplyResult, error) {
	var result *ApplyResult
	var err error
	for attempt := 0; attempt < applyMaxRetries; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, txErr = s.ApplyWithin(ctx, tx, op)
			return txErr
		})
		if !errors.Is(err, repository.ErrOptimisticLock) {
			break
		}
		s.logger.Warn("记账乐观锁冲突，重试",
			zap.Int64("user_id", op.UserID),
			zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyWithin 在调用方事务里记一笔账
// PaymentService 用它把限额检查、记账和支付单推进放进同一个事务快照
func (s *LedgerService) ApplyWithin(ctx context.Context, tx *gorm.DB, op *LedgerOperation) (*ApplyResult, error) {
	if !op.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if op.Direction != model.DirectionCredit && op.Direction != model.DirectionDebit {
		return nil, ErrInvalidDirection
	}

	contentHash := ContentHash(op.UserID, op.Amount, op.Currency, op.IdempotencyKey)

	// 幂等重放：同账户同哈希的已完成流水直接返回历史结果
	existing, err := s.transactionRepo.GetCompletedByContentHash(ctx, tx, op.UserID, contentHash)
	if err != nil {
		return nil, fmt.Errorf("幂等查询失败: %w", err)
	}
	if existing != nil {
		return &ApplyResult{
			TransactionNo: existing.TransactionNo,
			NewBalance:    existing.BalanceAfter,
			Duplicate:     true,
		}, nil
	}

	account, err := s.accountRepo.Get(ctx, tx, op.UserID, op.Currency)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, repository.ErrAccountInactive
	}

	var newBalance decimal.Decimal
	switch op.Direction {
	case model.DirectionDebit:
		if account.Balance.LessThan(op.Amount) {
			return nil, repository.ErrBalanceNotEnough
		}
		if err := s.accountRepo.Deduct(ctx, tx, op.UserID, op.Currency, op.Amount, account.Version); err != nil {
			return nil, err
		}
		newBalance = account.Balance.Sub(op.Amount)
	case model.DirectionCredit:
		if err := s.accountRepo.Increase(ctx, tx, op.UserID, op.Currency, op.Amount); err != nil {
			return nil, err
		}
		newBalance = account.Balance.Add(op.Amount)
	}

	now := time.Now()
	trans := &model.Transaction{
		TransactionNo:  idgen.GenerateTransactionNo(),
		UserID:         op.UserID,
		CounterpartyID: op.CounterpartyID,
		Direction:      op.Direction,
		Amount:         op.Amount,
		Currency:       op.Currency,
		Category:       op.Category,
		Description:    op.Description,
		Status:         model.TransactionStatusCompleted,
		ContentHash:    contentHash,
		BalanceBefore:  account.Balance,
		BalanceAfter:   newBalance,
		ReversalOf:     op.ReversalOf,
		CompletedAt:    &now,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	return &ApplyResult{
		TransactionNo: trans.TransactionNo,
		NewBalance:    newBalance,
	}, nil
}

// Transfer 同币种原子转账，乐观锁冲突自动重试
func (s *LedgerService) Transfer(ctx context.Context, op *TransferOperation) (*TransferResult, error) {
	var result *TransferResult
	var err error
	for attempt := 0; attempt < applyMaxRetries; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, txErr = s.TransferWithin(ctx, tx, op)
			return txErr
		})
		if !errors.Is(err, repository.ErrOptimisticLock) {
			break
		}
		s.logger.Warn("转账乐观锁冲突，重试",
			zap.Int64("from", op.FromUserID),
			zap.Int64("to", op.ToUserID),
			zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransferWithin 在调用方事务里做一笔转账
//
// 【关键点】两个账户的 UPDATE 按 user_id 全局固定顺序执行，
// 避免两笔方向相反的并发转账在 MySQL 行锁上互相等待形成死锁
func (s *LedgerService) TransferWithin(ctx context.Context, tx *gorm.DB, op *TransferOperation) (*TransferResult, error) {
	if !op.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if op.FromUserID == op.ToUserID {
		return nil, ErrSameAccount
	}

	fromHash := ContentHash(op.FromUserID, op.Amount, op.Currency, op.IdempotencyKey)

	existing, err := s.transactionRepo.GetCompletedByContentHash(ctx, tx, op.FromUserID, fromHash)
	if err != nil {
		return nil, fmt.Errorf("幂等查询失败: %w", err)
	}
	if existing != nil {
		toHash := ContentHash(op.ToUserID, op.Amount, op.Currency, op.IdempotencyKey)
		toTrans, err := s.transactionRepo.GetCompletedByContentHash(ctx, tx, op.ToUserID, toHash)
		if err != nil {
			return nil, fmt.Errorf("幂等查询失败: %w", err)
		}
		result := &TransferResult{
			TransactionNo: existing.TransactionNo,
			FromBalance:   existing.BalanceAfter,
			Duplicate:     true,
		}
		if toTrans != nil {
			result.ToBalance = toTrans.BalanceAfter
		}
		return result, nil
	}

	fromAccount, err := s.accountRepo.Get(ctx, tx, op.FromUserID, op.Currency)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("付款方%w", repository.ErrAccountNotFound)
		}
		return nil, err
	}
	toAccount, err := s.accountRepo.Get(ctx, tx, op.ToUserID, op.Currency)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("收款方%w", repository.ErrAccountNotFound)
		}
		return nil, err
	}

	if fromAccount.Balance.LessThan(op.Amount) {
		return nil, repository.ErrBalanceNotEnough
	}

	// 全局固定顺序更新两个账户
	if op.FromUserID < op.ToUserID {
		if err := s.accountRepo.Deduct(ctx, tx, op.FromUserID, op.Currency, op.Amount, fromAccount.Version); err != nil {
			return nil, err
		}
		if err := s.accountRepo.Increase(ctx, tx, op.ToUserID, op.Currency, op.Amount); err != nil {
			return nil, err
		}
	} else {
		if err := s.accountRepo.Increase(ctx, tx, op.ToUserID, op.Currency, op.Amount); err != nil {
			return nil, err
		}
		if err := s.accountRepo.Deduct(ctx, tx, op.FromUserID, op.Currency, op.Amount, fromAccount.Version); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	transactionNo := idgen.GenerateTransactionNo()
	fromBalance := fromAccount.Balance.Sub(op.Amount)
	toBalance := toAccount.Balance.Add(op.Amount)

	fromTrans := &model.Transaction{
		TransactionNo:  transactionNo,
		UserID:         op.FromUserID,
		CounterpartyID: &op.ToUserID,
		Direction:      model.DirectionDebit,
		Amount:         op.Amount,
		Currency:       op.Currency,
		Category:       model.CategoryTransferOut,
		Description:    op.Description,
		Status:         model.TransactionStatusCompleted,
		ContentHash:    fromHash,
		BalanceBefore:  fromAccount.Balance,
		BalanceAfter:   fromBalance,
		CompletedAt:    &now,
	}
	if err := s.transactionRepo.Create(ctx, tx, fromTrans); err != nil {
		return nil, fmt.Errorf("记录付款方流水失败: %w", err)
	}

	toTrans := &model.Transaction{
		TransactionNo:  idgen.GenerateTransactionNo(),
		UserID:         op.ToUserID,
		CounterpartyID: &op.FromUserID,
		Direction:      model.DirectionCredit,
		Amount:         op.Amount,
		Currency:       op.Currency,
		Category:       model.CategoryTransferIn,
		Description:    op.Description,
		Status:         model.TransactionStatusCompleted,
		ContentHash:    ContentHash(op.ToUserID, op.Amount, op.Currency, op.IdempotencyKey),
		BalanceBefore:  toAccount.Balance,
		BalanceAfter:   toBalance,
		CompletedAt:    &now,
	}
	if err := s.transactionRepo.Create(ctx, tx, toTrans); err != nil {
		return nil, fmt.Errorf("记录收款方流水失败: %w", err)
	}

	return &TransferResult{
		TransactionNo: transactionNo,
		FromBalance:   fromBalance,
		ToBalance:     toBalance,
	}, nil
}

// BalanceValidation 对账结果
type BalanceValidation struct {
	UserID          int64           `json:"user_id"`
	Currency        string          `json:"currency"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
	IsValid         bool            `json:"is_valid"`
}

// ValidateBalance 重放对账
// 把账户全部已完成流水的带符号金额求和，与账面余额比对。
// 诊断用途，不在支付热路径上，但这就是账本正确性的定义
func (s *LedgerService) ValidateBalance(ctx context.Context, userID int64, currency string) (*BalanceValidation, error) {
	account, err := s.accountRepo.Get(ctx, nil, userID, currency)
	if err != nil {
		return nil, err
	}

	transactions, err := s.transactionRepo.ListCompletedByAccount(ctx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}

	replayed := decimal.Zero
	for _, trans := range transactions {
		replayed = replayed.Add(trans.SignedAmount())
	}

	discrepancy := account.Balance.Sub(replayed).Abs()
	return &BalanceValidation{
		UserID:          userID,
		Currency:        currency,
		StoredBalance:   account.Balance,
		ReplayedBalance: replayed,
		Discrepancy:     discrepancy,
		IsValid:         discrepancy.LessThan(reconcileEpsilon),
	}, nil
}

// GetAccount 查账户，不存在则建零余额账户
func (s *LedgerService) GetAccount(ctx context.Context, userID int64, currency string) (*model.Account, error) {
	return s.accountRepo.GetOrCreate(ctx, userID, currency)
}

// ListAccounts 用户全部币种账户
func (s *LedgerService) ListAccounts(ctx context.Context, userID int64) ([]*model.Account, error) {
	return s.accountRepo.ListByUserID(ctx, userID)
}

// Deposit 充值入账（简化版，实际应走支付渠道回调）
func (s *LedgerService) Deposit(ctx context.Context, userID int64, currency string, amount decimal.Decimal, idempotencyKey string) (*ApplyResult, error) {
	if _, err := s.accountRepo.GetOrCreate(ctx, userID, currency); err != nil {
		return nil, err
	}
	return s.Apply(ctx, &LedgerOperation{
		UserID:         userID,
		Direction:      model.DirectionCredit,
		Amount:         amount,
		Currency:       currency,
		Category:       model.CategoryDeposit,
		Description:    "充值",
		IdempotencyKey: idempotencyKey,
	})
}

// ListTransactions 用户流水分页查询
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}
