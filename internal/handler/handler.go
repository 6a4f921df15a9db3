package handler

import (
	"errors"
	"strconv"

	"paycore/internal/config"
	"paycore/internal/infrastructure/lock"
	"paycore/internal/repository"
	"paycore/internal/risk"
	"paycore/internal/saga"
	"paycore/internal/service"
	"paycore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	paymentService *service.PaymentService
	ledgerService  *service.LedgerService
	logger         *zap.Logger
}

// NewHandler 创建处理器实例并完成服务装配
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *Handler {
	outboxRepo := repository.NewOutboxRepository(db)

	gate := risk.NewGate(cfg, outboxRepo, logger)
	ledger := service.NewLedgerService(db, logger)
	limits := service.NewLimitService(db, &cfg.Business)
	orchestrator := saga.NewOrchestrator(logger)

	var rates service.RateProvider = service.NewStaticRateProvider(&cfg.FX)
	if rdb != nil {
		rates = service.NewCachedRateProvider(rates, rdb, &cfg.FX)
	}

	var lockFactory lock.Factory
	if cfg.Business.LockMode == "local" || rdb == nil {
		lockFactory = lock.NewLocalFactory()
	} else {
		lockFactory = lock.NewRedisFactory(rdb)
	}

	return &Handler{
		paymentService: service.NewPaymentService(db, cfg, gate, ledger, limits, orchestrator, rates, lockFactory, logger),
		ledgerService:  ledger,
		logger:         logger,
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询用户某币种余额
// GET /api/v1/account/balance?user_id=xxx&currency=USD
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "user_id 参数错误")
		return
	}
	currency := c.DefaultQuery("currency", "USD")

	account, err := h.ledgerService.GetAccount(c.Request.Context(), userID, currency)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"user_id":  account.UserID,
		"currency": account.Currency,
		"balance":  account.Balance,
	})
}

// ListAccounts 查询用户全部币种账户
// GET /api/v1/account/list?user_id=xxx
func (h *Handler) ListAccounts(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "user_id 参数错误")
		return
	}

	accounts, err := h.ledgerService.ListAccounts(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": accounts})
}

// DepositRequest 充值请求
type DepositRequest struct {
	RequestID string  `json:"request_id" binding:"required"`
	UserID    int64   `json:"user_id" binding:"required"`
	Currency  string  `json:"currency" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
}

// Deposit 充值接口（简化版，实际应走支付渠道回调）
// POST /api/v1/account/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.ledgerService.Deposit(c.Request.Context(), req.UserID, req.Currency,
		decimal.NewFromFloat(req.Amount), req.RequestID)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, result)
}

// ValidateBalance 重放对账，诊断接口
// GET /api/v1/account/validate?user_id=xxx&currency=USD
func (h *Handler) ValidateBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "user_id 参数错误")
		return
	}
	currency := c.DefaultQuery("currency", "USD")

	validation, err := h.ledgerService.ValidateBalance(c.Request.Context(), userID, currency)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			response.Fail(c, response.CodeAccountNotFound, err.Error())
			return
		}
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, validation)
}

// ============================================================
// 支付相关接口
// ============================================================

// ExecutePaymentRequest 支付请求
type ExecutePaymentRequest struct {
	RequestID      string              `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	UserID         int64               `json:"user_id" binding:"required"`
	RecipientID    *int64              `json:"recipient_id"`
	Type           string              `json:"type" binding:"required"` // PAYMENT / TRANSFER / CROSS_FX
	Amount         float64             `json:"amount" binding:"required,gt=0"`
	Currency       string              `json:"currency" binding:"required"`
	TargetCurrency string              `json:"target_currency"`
	Description    string              `json:"description"`
	Signals        service.EdgeSignals `json:"signals"`
}

// ExecutePayment 执行支付
// POST /api/v1/payment/execute
//
// 【关键点】一个入口覆盖三种支付类型：
// 单笔扣款 / 同币种转账走单事务，跨币种转账走 saga。
// 风控拦截返回业务码而不是 HTTP 错误，调用方能拿到完整评估
func (h *Handler) ExecutePayment(c *gin.Context) {
	var req ExecutePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	outcome, err := h.paymentService.Execute(c.Request.Context(), &service.PaymentRequest{
		RequestID:      req.RequestID,
		UserID:         req.UserID,
		RecipientID:    req.RecipientID,
		Type:           req.Type,
		Amount:         decimal.NewFromFloat(req.Amount),
		Currency:       req.Currency,
		TargetCurrency: req.TargetCurrency,
		Description:    req.Description,
		Signals:        req.Signals,
	})

	switch {
	case err == nil:
		response.Success(c, outcome)
	case errors.Is(err, service.ErrAdmissionRejected):
		response.FailWithData(c, response.CodeAdmissionRejected, outcome.RejectReason, outcome)
	case errors.Is(err, service.ErrDailyLimitExceeded), errors.Is(err, service.ErrMonthlyLimitExceeded):
		response.Fail(c, response.CodeLimitExceeded, err.Error())
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.Fail(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound), errors.Is(err, repository.ErrAccountInactive):
		response.Fail(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrSameAccount),
		errors.Is(err, service.ErrUnknownPaymentType), errors.Is(err, service.ErrRecipientRequired),
		errors.Is(err, service.ErrTargetCurrencyMissing):
		response.Fail(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, saga.ErrSagaStepFailed):
		response.Fail(c, response.CodeSagaStepFailed, err.Error())
	default:
		h.logger.Error("支付执行失败", zap.Error(err))
		response.InternalError(c, err.Error())
	}
}

// GetPayment 支付单详情
// GET /api/v1/payment/detail?payment_no=xxx
func (h *Handler) GetPayment(c *gin.Context) {
	paymentNo := c.Query("payment_no")
	if paymentNo == "" {
		response.BadRequest(c, "payment_no 参数不能为空")
		return
	}

	payment, err := h.paymentService.GetPayment(c.Request.Context(), paymentNo)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			response.Fail(c, response.CodePaymentNotFound, err.Error())
			return
		}
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, payment)
}

// ListPayments 用户支付单列表
// GET /api/v1/payment/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListPayments(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "user_id 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	payments, total, err := h.paymentService.ListPayments(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"list":      payments,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetSagaStatus saga 执行快照
// GET /api/v1/payment/saga?saga_id=xxx
func (h *Handler) GetSagaStatus(c *gin.Context) {
	sagaID := c.Query("saga_id")
	if sagaID == "" {
		response.BadRequest(c, "saga_id 参数不能为空")
		return
	}

	snapshot, err := h.paymentService.GetSagaStatus(sagaID)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			response.Fail(c, response.CodeSagaNotFound, err.Error())
			return
		}
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, snapshot)
}

// AssessRisk 风控诊断接口：只评估不执行
// POST /api/v1/risk/assess
func (h *Handler) AssessRisk(c *gin.Context) {
	var req ExecutePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	report, assessment, err := h.paymentService.Assess(c.Request.Context(), &service.PaymentRequest{
		RequestID:   req.RequestID,
		UserID:      req.UserID,
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Amount:      decimal.NewFromFloat(req.Amount),
		Currency:    req.Currency,
		Signals:     req.Signals,
	})
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"compliance":      report,
		"risk_assessment": assessment,
	})
}

// ============================================================
// 流水相关接口
// ============================================================

// ListTransactions 用户流水列表
// GET /api/v1/transaction/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "user_id 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.ledgerService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
