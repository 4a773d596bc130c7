package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foofork/orchflow/internal/apperrors"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

func TestSaveWritesSnapshotAndClearsDirty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0, nil)
	require.NoError(t, err)

	s.Mutate(func(sess *v1.Session) {
		sess.Tasks = append(sess.Tasks, &v1.Task{ID: "t1", Status: v1.TaskStatusPending})
	})
	require.NoError(t, s.Save())

	reopened, err := Open(dir, 0, nil)
	require.NoError(t, err)
	require.Len(t, reopened.Session().Tasks, 1)
	assert.Equal(t, "t1", reopened.Session().Tasks[0].ID)
}

func TestSaveIsNoOpWhenNotDirty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save())

	// A fresh store has never been mutated, so Save should not have
	// written anything to disk yet.
	_, statErr := os.Stat(filepath.Join(dir, "state.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0, nil)
	require.NoError(t, err)
	require.NoError(t, s.ForceSave())

	// Corrupt the version field directly on disk.
	path := filepath.Join(dir, "state.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	mutated := strings.Replace(string(data), v1.SnapshotVersion, "99.0.0", 1)
	require.NoError(t, os.WriteFile(path, []byte(mutated), 0o644))

	_, err = Open(dir, 0, nil)
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindUnsupportedVersion, kind)
}

func TestCreateAndRestoreSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0, nil)
	require.NoError(t, err)

	s.Mutate(func(sess *v1.Session) {
		sess.Tasks = append(sess.Tasks, &v1.Task{ID: "original"})
	})
	require.NoError(t, s.Save())

	path, err := s.CreateSnapshot("checkpoint")
	require.NoError(t, err)

	s.Mutate(func(sess *v1.Session) {
		sess.Tasks = []*v1.Task{{ID: "replaced"}}
	})
	require.NoError(t, s.Save())

	require.NoError(t, s.RestoreSnapshot(path))
	require.Len(t, s.Session().Tasks, 1)
	assert.Equal(t, "original", s.Session().Tasks[0].ID)

	beforeRestorePath := filepath.Join(dir, "snapshots", "before_restore.json")
	_, statErr := os.Stat(beforeRestorePath)
	require.NoError(t, statErr)
}
