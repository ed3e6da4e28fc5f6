package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/toolweave/internal/tools"
)

func TestProcessAsync_Completes(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	id, err := o.ProcessAsync(context.Background(), "Find all enums")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		status, err := o.AsyncStatus(id)
		return err == nil && status.IsComplete
	}, 2*time.Second, 5*time.Millisecond)

	status, err := o.AsyncStatus(id)
	require.NoError(t, err)
	assert.False(t, status.HasError)
	assert.Equal(t, "Find all enums", status.Request)

	report, err := o.AsyncResult(id)
	require.NoError(t, err)
	assert.True(t, report.Success)

	assert.Equal(t, StateComplete, o.ListAsync()[id])

	cancelled, err := o.CancelAsync(id)
	require.NoError(t, err)
	assert.False(t, cancelled, "finished runs cannot be cancelled")

	assert.Equal(t, 0, o.CleanupCompleted(time.Hour))
	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, 1, o.CleanupCompleted(time.Millisecond))
	_, err = o.AsyncStatus(id)
	assert.Error(t, err)
}

func TestProcessAsync_Cancel(t *testing.T) {
	o := newTestOrchestrator(t, []tools.Option{tools.WithLatency(time.Second)})

	id, err := o.ProcessAsync(context.Background(), "Find all enums")
	require.NoError(t, err)

	cancelled, err := o.CancelAsync(id)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, StateCancelled, o.ListAsync()[id])

	_, err = o.AsyncResult(id)
	assert.Error(t, err)

	status, err := o.AsyncStatus(id)
	require.NoError(t, err)
	assert.True(t, status.HasError)
	assert.NotEmpty(t, status.ErrorMessage)

	done := make(chan struct{})
	go func() {
		_ = o.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the run was cancelled")
	}
}

func TestProcessAsync_UnknownID(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	_, err := o.AsyncStatus("missing")
	assert.Error(t, err)
	_, err = o.AsyncResult("missing")
	assert.Error(t, err)
	_, err = o.CancelAsync("missing")
	assert.Error(t, err)
}
