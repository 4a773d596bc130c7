package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foofork/orchflow/internal/apperrors"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

func newTestManager(maxWorkers int) *Manager {
	return NewManager(Config{MaxWorkers: maxWorkers, OutputRingSize: 50, PTYCols: 80, PTYRows: 24}, nil, nil, nil)
}

func TestSpawnAssignsQuickAccessKeyAndRespectsCap(t *testing.T) {
	m := newTestManager(1)

	w, err := m.Spawn(v1.TaskTypeCode, nil, "sleep 30")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, w.Snapshot().QuickAccessKey, 1)

	_, err = m.Spawn(v1.TaskTypeCode, nil, "sleep 30")
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindCapacityExceeded, kind)

	require.NoError(t, m.Teardown(w.ID()))
}

func TestAssignTaskRefusesBusyWorker(t *testing.T) {
	m := newTestManager(2)
	w, err := m.Spawn(v1.TaskTypeCode, nil, "sleep 30")
	require.NoError(t, err)
	defer m.Teardown(w.ID())

	require.NoError(t, m.AssignTask(w.ID(), "task-1", "echo hello"))
	err = m.AssignTask(w.ID(), "task-2", "echo world")
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindBusy, kind)
}

func TestTeardownReleasesQuickAccessKeyForReuse(t *testing.T) {
	m := newTestManager(1)
	w, err := m.Spawn(v1.TaskTypeCode, nil, "sleep 30")
	require.NoError(t, err)
	key := w.Snapshot().QuickAccessKey

	require.NoError(t, m.Teardown(w.ID()))

	w2, err := m.Spawn(v1.TaskTypeCode, nil, "sleep 30")
	require.NoError(t, err)
	defer m.Teardown(w2.ID())
	assert.Equal(t, key, w2.Snapshot().QuickAccessKey)
}

func TestGetLooksUpByIdNameAndSubstring(t *testing.T) {
	m := newTestManager(2)
	w, err := m.Spawn(v1.TaskTypeCode, nil, "sleep 30")
	require.NoError(t, err)
	defer m.Teardown(w.ID())

	byID, ok := m.Get(w.ID())
	require.True(t, ok)
	assert.Equal(t, w.ID(), byID.ID())

	byName, ok := m.Get(w.DescriptiveName())
	require.True(t, ok)
	assert.Equal(t, w.ID(), byName.ID())

	byPrefix, ok := m.Get(w.DescriptiveName()[:3])
	require.True(t, ok)
	assert.Equal(t, w.ID(), byPrefix.ID())
}

func TestKeyPoolAssignsLowestFreeSlot(t *testing.T) {
	var p keyPool
	a := p.assign()
	b := p.assign()
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)

	p.release(a)
	c := p.assign()
	assert.Equal(t, 1, c, "released slot should be recycled before higher numbers")
}

func TestOutputFeedTailersReceiveNewLines(t *testing.T) {
	feed := newOutputFeed(5)
	sub := feed.tail()
	defer feed.untail(sub)

	feed.record(OutputLine{Timestamp: time.Now(), Stream: "stdout", Content: "hello"})

	select {
	case line := <-sub:
		assert.Equal(t, "hello", line.Content)
	case <-time.After(time.Second):
		t.Fatal("expected tailer to receive the new line")
	}
}

func TestOutputFeedEvictsOldestOnceFull(t *testing.T) {
	feed := newOutputFeed(2)
	feed.record(OutputLine{Content: "a"})
	feed.record(OutputLine{Content: "b"})
	feed.record(OutputLine{Content: "c"})

	all := feed.all()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Content)
	assert.Equal(t, "c", all[1].Content)
}

func TestWorkerRecordOutputTagsWorkerID(t *testing.T) {
	m := newTestManager(1)
	w, err := m.Spawn(v1.TaskTypeCode, nil, "sleep 30")
	require.NoError(t, err)
	defer m.Teardown(w.ID())

	w.RecordOutput("stdout", "line one")
	recent := w.RecentOutput(1)
	require.Len(t, recent, 1)
	assert.Equal(t, w.ID(), recent[0].WorkerID)
	assert.Equal(t, "line one", recent[0].Content)
}
