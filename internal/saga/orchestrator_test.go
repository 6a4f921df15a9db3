package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noop(ctx context.Context) error { return nil }

func TestSagaAllStepsSucceed(t *testing.T) {
	o := NewOrchestrator(zap.NewNop())

	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	err := o.Start(context.Background(), "saga-ok", []StepDef{
		{Name: "a", Action: record("a"), Compensation: noop},
		{Name: "b", Action: record("b"), Compensation: noop},
		{Name: "c", Action: record("c"), Compensation: noop},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)

	snapshot, err := o.GetStatus("saga-ok")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snapshot.Status)
	assert.NotNil(t, snapshot.CompletedAt)
	for _, step := range snapshot.Steps {
		assert.Equal(t, StepStatusCompleted, step.Status)
	}
}

// 中间步骤失败：之前的步骤倒序补偿，之后的步骤不执行
func TestSagaFailureCompensatesCompletedSteps(t *testing.T) {
	o := NewOrchestrator(zap.NewNop())

	var events []string
	cRan := false

	err := o.Start(context.Background(), "saga-fail", []StepDef{
		{
			Name:   "a",
			Action: func(ctx context.Context) error { events = append(events, "a"); return nil },
			Compensation: func(ctx context.Context) error {
				events = append(events, "comp-a")
				return nil
			},
		},
		{
			Name:   "b",
			Action: func(ctx context.Context) error { return errors.New("余额不足") },
			Compensation: func(ctx context.Context) error {
				events = append(events, "comp-b")
				return nil
			},
		},
		{
			Name:         "c",
			Action:       func(ctx context.Context) error { cRan = true; return nil },
			Compensation: noop,
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSagaStepFailed)
	assert.Contains(t, err.Error(), "b")

	// 失败步自身不补偿，后续步从未执行
	assert.Equal(t, []string{"a", "comp-a"}, events)
	assert.False(t, cRan)

	snapshot, err := o.GetStatus("saga-fail")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snapshot.Status)
	assert.Equal(t, StepStatusCompensated, snapshot.Steps[0].Status)
	assert.Equal(t, StepStatusFailed, snapshot.Steps[1].Status)
	assert.Equal(t, "余额不足", snapshot.Steps[1].Error)
	assert.Equal(t, StepStatusPending, snapshot.Steps[2].Status)
}

// 补偿失败被吞掉：步骤保持 completed 供审计，更早的步骤照常回退
func TestSagaCompensationFailureIsSwallowed(t *testing.T) {
	o := NewOrchestrator(zap.NewNop())

	firstCompensated := false

	err := o.Start(context.Background(), "saga-comp-fail", []StepDef{
		{
			Name:   "a",
			Action: noop,
			Compensation: func(ctx context.Context) error {
				firstCompensated = true
				return nil
			},
		},
		{
			Name:   "b",
			Action: noop,
			Compensation: func(ctx context.Context) error {
				return errors.New("冲正写入失败")
			},
		},
		{
			Name:         "c",
			Action:       func(ctx context.Context) error { return errors.New("boom") },
			Compensation: noop,
		},
	})
	require.Error(t, err)

	snapshot, snapErr := o.GetStatus("saga-comp-fail")
	require.NoError(t, snapErr)
	assert.Equal(t, StatusFailed, snapshot.Status)
	// b 的补偿失败，状态留在 completed
	assert.Equal(t, StepStatusCompleted, snapshot.Steps[1].Status)
	// a 的补偿不受 b 失败影响
	assert.True(t, firstCompensated)
	assert.Equal(t, StepStatusCompensated, snapshot.Steps[0].Status)
}

// 无补偿动作的步骤在回退时直接跳过
func TestSagaNilCompensationSkipped(t *testing.T) {
	o := NewOrchestrator(zap.NewNop())

	err := o.Start(context.Background(), "saga-nil-comp", []StepDef{
		{Name: "query", Action: noop, Compensation: nil},
		{Name: "fail", Action: func(ctx context.Context) error { return errors.New("boom") }},
	})
	require.Error(t, err)

	snapshot, snapErr := o.GetStatus("saga-nil-comp")
	require.NoError(t, snapErr)
	assert.Equal(t, StatusFailed, snapshot.Status)
	assert.Equal(t, StepStatusCompleted, snapshot.Steps[0].Status)
}

func TestSagaFirstStepFailure(t *testing.T) {
	o := NewOrchestrator(zap.NewNop())

	compensated := false
	err := o.Start(context.Background(), "saga-first-fail", []StepDef{
		{
			Name:   "a",
			Action: func(ctx context.Context) error { return errors.New("boom") },
			Compensation: func(ctx context.Context) error {
				compensated = true
				return nil
			},
		},
	})
	require.Error(t, err)
	assert.False(t, compensated)

	snapshot, snapErr := o.GetStatus("saga-first-fail")
	require.NoError(t, snapErr)
	assert.Equal(t, StatusFailed, snapshot.Status)
}

func TestSagaDuplicateID(t *testing.T) {
	o := NewOrchestrator(zap.NewNop())

	require.NoError(t, o.Start(context.Background(), "saga-dup", []StepDef{
		{Name: "a", Action: noop},
	}))

	err := o.Start(context.Background(), "saga-dup", []StepDef{
		{Name: "a", Action: noop},
	})
	assert.ErrorIs(t, err, ErrSagaExists)
}

func TestSagaGetStatusUnknown(t *testing.T) {
	o := NewOrchestrator(zap.NewNop())

	_, err := o.GetStatus("missing")
	assert.ErrorIs(t, err, ErrSagaNotFound)
}
