// Package saga 实现带补偿的多步工作流编排
//
// 一个 saga 把一次跨账户/跨币种支付拆成若干步，每步带一个正向动作和
// 一个显式的回退动作。步与步严格串行；任何一步失败后，已完成的步骤
// 按倒序做尽力而为的补偿，saga 终态固定为 failed，不会恢复正向执行。
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// saga 整体状态
const (
	StatusRunning      = "running"
	StatusCompleted    = "completed"
	StatusCompensating = "compensating"
	StatusFailed       = "failed"
)

// 单步状态
const (
	StepStatusPending     = "pending"
	StepStatusCompleted   = "completed"
	StepStatusFailed      = "failed"
	StepStatusCompensated = "compensated"
)

var (
	ErrSagaNotFound   = errors.New("saga 不存在")
	ErrSagaExists     = errors.New("saga 已注册")
	ErrSagaStepFailed = errors.New("saga 步骤执行失败")
)

// StepDef 调用方声明的一步：正向动作 + 补偿动作
// Compensation 可以为 nil，表示该步无需回退（如纯查询）
type StepDef struct {
	Name         string
	Action       func(ctx context.Context) error
	Compensation func(ctx context.Context) error
}

type step struct {
	id           string
	name         string
	action       func(ctx context.Context) error
	compensation func(ctx context.Context) error
	status       string
	err          error
}

type saga struct {
	id          string
	steps       []*step
	currentStep int
	status      string
	createdAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time
	mu          sync.RWMutex
}

// StepSnapshot / Snapshot 对外暴露的快照，GetStatus 随时可取，包括执行中途
type StepSnapshot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Snapshot struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	CurrentStep int            `json:"current_step"`
	Steps       []StepSnapshot `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Orchestrator saga 编排器
// saga 之间相互独立、可以并发执行，注册表只用一把读写锁保护
type Orchestrator struct {
	mu     sync.RWMutex
	sagas  map[string]*saga
	logger *zap.Logger
}

func NewOrchestrator(logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sagas:  make(map[string]*saga),
		logger: logger,
	}
}

// Start 注册并同步执行一个 saga
// 第 i 步只有在第 i-1 步完成后才开始；首个失败触发倒序补偿，
// 返回包装后的步骤错误，saga 终态为 failed
func (o *Orchestrator) Start(ctx context.Context, sagaID string, defs []StepDef) error {
	s := &saga{
		id:        sagaID,
		status:    StatusRunning,
		createdAt: time.Now(),
		updatedAt: time.Now(),
	}
	for _, def := range defs {
		s.steps = append(s.steps, &step{
			id:           uuid.New().String(),
			name:         def.Name,
			action:       def.Action,
			compensation: def.Compensation,
			status:       StepStatusPending,
		})
	}

	o.mu.Lock()
	if _, exists := o.sagas[sagaID]; exists {
		o.mu.Unlock()
		return ErrSagaExists
	}
	o.sagas[sagaID] = s
	o.mu.Unlock()

	return o.execute(ctx, s)
}

// GetStatus 取 saga 当前快照，执行中途也可调用
func (o *Orchestrator) GetStatus(sagaID string) (*Snapshot, error) {
	o.mu.RLock()
	s, ok := o.sagas[sagaID]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrSagaNotFound
	}
	return s.snapshot(), nil
}

func (o *Orchestrator) execute(ctx context.Context, s *saga) error {
	o.logger.Info("saga 开始执行",
		zap.String("saga_id", s.id),
		zap.Int("step_count", len(s.steps)))

	for i, st := range s.steps {
		s.mu.Lock()
		s.currentStep = i
		s.updatedAt = time.Now()
		s.mu.Unlock()

		// 动作在锁外执行，GetStatus 不会被长动作卡住
		err := st.action(ctx)

		s.mu.Lock()
		if err != nil {
			st.status = StepStatusFailed
			st.err = err
			s.status = StatusCompensating
			s.mu.Unlock()

			o.logger.Error("saga 步骤失败，开始补偿",
				zap.String("saga_id", s.id),
				zap.Int("step", i),
				zap.String("step_name", st.name),
				zap.Error(err))

			o.compensate(ctx, s, i)
			return fmt.Errorf("%w: %s: %w", ErrSagaStepFailed, st.name, err)
		}
		st.status = StepStatusCompleted
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.status = StatusCompleted
	now := time.Now()
	s.completedAt = &now
	s.updatedAt = now
	s.mu.Unlock()

	o.logger.Info("saga 执行完成", zap.String("saga_id", s.id))
	return nil
}

// compensate 对失败步之前所有已完成的步骤按倒序补偿
//
// 补偿是尽力而为：单步补偿失败只记日志并保留 completed 状态供事后审计，
// 不重试，也不中断更早步骤的回退；补偿一旦开始，saga 终态必为 failed
func (o *Orchestrator) compensate(ctx context.Context, s *saga, failedStep int) {
	for i := failedStep - 1; i >= 0; i-- {
		st := s.steps[i]

		s.mu.RLock()
		completed := st.status == StepStatusCompleted
		s.mu.RUnlock()
		if !completed || st.compensation == nil {
			continue
		}

		o.logger.Info("补偿 saga 步骤",
			zap.String("saga_id", s.id),
			zap.Int("step", i),
			zap.String("step_name", st.name))

		if err := st.compensation(ctx); err != nil {
			// 补偿失败不向上抛，留在步骤状态里供审计
			o.logger.Error("saga 步骤补偿失败",
				zap.String("saga_id", s.id),
				zap.Int("step", i),
				zap.String("step_name", st.name),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		st.status = StepStatusCompensated
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.status = StatusFailed
	now := time.Now()
	s.completedAt = &now
	s.updatedAt = now
	s.mu.Unlock()

	o.logger.Info("saga 补偿结束，终态 failed", zap.String("saga_id", s.id))
}

func (s *saga) snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		ID:          s.id,
		Status:      s.status,
		CurrentStep: s.currentStep,
		CreatedAt:   s.createdAt,
		CompletedAt: s.completedAt,
	}
	for _, st := range s.steps {
		ss := StepSnapshot{
			ID:     st.id,
			Name:   st.name,
			Status: st.status,
		}
		if st.err != nil {
			ss.Error = st.err.Error()
		}
		snap.Steps = append(snap.Steps, ss)
	}
	return snap
}
