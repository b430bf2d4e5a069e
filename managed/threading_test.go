package managed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/isolator/vm"
)

func TestSetTimer_RequestsEarliestTimeout(t *testing.T) {
	rt := New()
	var requested []int32
	rt.AddInternalCall(InternalSetTimeout, func(args []vm.Object) (vm.Object, error) {
		requested = append(requested, args[0].(*Object).Value().(int32))
		return nil, nil
	})

	var fired []string
	require.NoError(t, rt.SetTimer(50, func() error { fired = append(fired, "late"); return nil }))
	require.NoError(t, rt.SetTimer(10, func() error { fired = append(fired, "early"); return nil }))
	assert.Equal(t, []int32{50, 10}, requested)
	assert.Equal(t, 2, rt.PendingTimers())

	_, err := rt.Invoke(rt.staticMethod("System.Threading.TimerQueue", "TimeoutCallback", 0), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Zero(t, rt.PendingTimers())
}

func TestQueueWork(t *testing.T) {
	rt := New()
	calls := 0
	rt.AddInternalCall(InternalQueueCallback, func([]vm.Object) (vm.Object, error) {
		calls++
		return nil, nil
	})

	ran := 0
	require.NoError(t, rt.QueueWork(func() error { ran++; return nil }))
	require.NoError(t, rt.QueueWork(func() error { ran++; return nil }))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, rt.PendingWork())

	_, err := rt.Invoke(rt.staticMethod("System.Threading.ThreadPool", "Callback", 0), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ran)
	assert.Zero(t, rt.PendingWork())
}

func TestQueueWork_Unbound(t *testing.T) {
	rt := New()
	err := rt.QueueWork(func() error { return nil })
	assert.Equal(t, "System.MissingMethodException", thrownClass(t, err))
}

func TestCallHost(t *testing.T) {
	rt := New()
	rt.AddInternalCall(InternalCallHost, func(args []vm.Object) (vm.Object, error) {
		in, ok := rt.Bytes(args[0])
		require.True(t, ok)
		return rt.NewBytes(append([]byte("echo:"), in...)), nil
	})

	out, err := rt.CallHost([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(out))
}
