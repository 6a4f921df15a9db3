package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockMutualExclusion(t *testing.T) {
	factory := NewLocalFactory()
	ctx := context.Background()

	first := factory(1, "req-a")
	second := factory(1, "req-b")

	require.NoError(t, first.Lock(ctx, time.Millisecond, 1))

	// 同一用户的第二把锁拿不到
	err := second.Lock(ctx, time.Millisecond, 2)
	assert.ErrorIs(t, err, ErrLockFailed)

	require.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Millisecond, 1))
}

func TestLocalLockDifferentUsersIndependent(t *testing.T) {
	factory := NewLocalFactory()
	ctx := context.Background()

	assert.NoError(t, factory(1, "req-a").Lock(ctx, time.Millisecond, 1))
	assert.NoError(t, factory(2, "req-b").Lock(ctx, time.Millisecond, 1))
}

// 非持有者释放不掉别人的锁
func TestLocalLockUnlockVerifiesHolder(t *testing.T) {
	factory := NewLocalFactory()
	ctx := context.Background()

	holder := factory(1, "req-a")
	intruder := factory(1, "req-b")

	require.NoError(t, holder.Lock(ctx, time.Millisecond, 1))
	require.NoError(t, intruder.Unlock(ctx))

	// 锁仍被 req-a 持有
	err := intruder.Lock(ctx, time.Millisecond, 1)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestLocalLockRespectsContext(t *testing.T) {
	factory := NewLocalFactory()

	holder := factory(1, "req-a")
	require.NoError(t, holder.Lock(context.Background(), time.Millisecond, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := factory(1, "req-b").Lock(ctx, 10*time.Millisecond, 5)
	assert.ErrorIs(t, err, context.Canceled)
}
