package toolcall

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatstream/core"
)

func fixedTracker(at time.Time) *Tracker {
	tr := New()
	tr.now = func() time.Time { return at }
	return tr
}

func TestTracker_UnseenIDStartsPending(t *testing.T) {
	tr := New()

	info, err := tr.Apply(core.ToolCallPatch{ID: "call-1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`)})
	require.NoError(t, err)
	assert.Equal(t, core.ToolStatusPending, info.Status)
	assert.Equal(t, "search", info.Name)
	assert.Nil(t, info.StartedAt)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_ForwardLifecycle(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := fixedTracker(t0)

	_, err := tr.Apply(core.ToolCallPatch{ID: "c", Name: "fetch"})
	require.NoError(t, err)

	running, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusRunning})
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	assert.True(t, running.StartedAt.Equal(t0))
	assert.Nil(t, running.CompletedAt)

	tr.now = func() time.Time { return t0.Add(time.Second) }
	done, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusCompleted, Output: "200 OK"})
	require.NoError(t, err)
	assert.Equal(t, core.ToolStatusCompleted, done.Status)
	assert.Equal(t, "200 OK", done.Output)
	assert.Equal(t, "fetch", done.Name)
	assert.True(t, done.StartedAt.Equal(t0), "start time is kept")
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(t0.Add(time.Second)))
}

func TestTracker_LateRunningAfterCompletedIsRejected(t *testing.T) {
	tr := New()
	for _, st := range []core.ToolStatus{core.ToolStatusPending, core.ToolStatusRunning, core.ToolStatusCompleted} {
		_, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: st})
		require.NoError(t, err)
	}

	info, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusRunning, Output: "late"})
	assert.ErrorIs(t, err, core.ErrRegressiveToolStatus)
	assert.Equal(t, core.ToolStatusCompleted, info.Status)

	got, ok := tr.Get("c")
	require.True(t, ok)
	assert.Equal(t, core.ToolStatusCompleted, got.Status)
	assert.Empty(t, got.Output, "rejected patch must not merge fields")
}

func TestTracker_OutOfOrderCompletedBeforeRunning(t *testing.T) {
	tr := New()

	info, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusCompleted, Output: "ok"})
	require.NoError(t, err)
	assert.Equal(t, core.ToolStatusCompleted, info.Status)
	assert.NotNil(t, info.StartedAt)
	assert.NotNil(t, info.CompletedAt)

	_, err = tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusRunning})
	assert.ErrorIs(t, err, core.ErrRegressiveToolStatus)
}

func TestTracker_TerminalToTerminalRejected(t *testing.T) {
	tr := New()
	_, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusError, Error: "timeout"})
	require.NoError(t, err)

	_, err = tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusCompleted})
	assert.ErrorIs(t, err, core.ErrRegressiveToolStatus)

	got, _ := tr.Get("c")
	assert.Equal(t, core.ToolStatusError, got.Status)
	assert.Equal(t, "timeout", got.Error)
}

func TestTracker_SameStatusMergesFields(t *testing.T) {
	tr := New()
	_, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusRunning})
	require.NoError(t, err)

	info, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusRunning, Arguments: json.RawMessage(`{"page":2}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"page":2}`, string(info.Arguments))

	// statusless patch only fills fields
	info, err = tr.Apply(core.ToolCallPatch{ID: "c", Name: "paginate"})
	require.NoError(t, err)
	assert.Equal(t, core.ToolStatusRunning, info.Status)
	assert.Equal(t, "paginate", info.Name)
}

func TestTracker_PatchTimestampsWin(t *testing.T) {
	tr := New()
	started := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)

	info, err := tr.Apply(core.ToolCallPatch{ID: "c", Status: core.ToolStatusCompleted, StartedAt: &started, CompletedAt: &completed})
	require.NoError(t, err)
	assert.True(t, info.StartedAt.Equal(started))
	assert.True(t, info.CompletedAt.Equal(completed))
}

func TestTracker_InvalidPatches(t *testing.T) {
	tr := New()
	_, err := tr.Apply(core.ToolCallPatch{})
	assert.ErrorIs(t, err, core.ErrMalformedEvent)

	_, err = tr.Apply(core.ToolCallPatch{ID: "c", Status: "paused"})
	assert.ErrorIs(t, err, core.ErrMalformedEvent)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_SnapshotIsOrderedAndDetached(t *testing.T) {
	tr := New()
	_, _ = tr.Apply(core.ToolCallPatch{ID: "b", Arguments: json.RawMessage(`[1]`)})
	_, _ = tr.Apply(core.ToolCallPatch{ID: "a"})
	_, _ = tr.Apply(core.ToolCallPatch{ID: "b", Status: core.ToolStatusRunning})

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].ID)
	assert.Equal(t, "a", snap[1].ID)

	snap[0].Arguments[1] = '9'
	snap[0].Status = core.ToolStatusError
	got, _ := tr.Get("b")
	assert.Equal(t, `[1]`, string(got.Arguments))
	assert.Equal(t, core.ToolStatusRunning, got.Status)

	assert.Nil(t, New().Snapshot())
}
