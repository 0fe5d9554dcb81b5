package statelog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyAppendsAndReplayReconstructs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.log")

	sl, err := Open(path)
	require.NoError(t, err)

	var applied []string
	require.NoError(t, sl.Apply(Record{UserID: 1, Code: CreateStream, Payload: []byte("s1")},
		func() error { applied = append(applied, "s1"); return nil },
		func() { t.Fatal("rollback should not run") }))
	require.NoError(t, sl.Apply(Record{UserID: 1, Code: CreateTopic, Payload: []byte("t1")},
		func() error { applied = append(applied, "t1"); return nil },
		func() { t.Fatal("rollback should not run") }))
	require.NoError(t, sl.Close())

	var replayed []string
	require.NoError(t, Replay(path, func(r Record) error {
		replayed = append(replayed, string(r.Payload))
		return nil
	}))
	require.Equal(t, applied, replayed)

	var replayedAgain []string
	require.NoError(t, Replay(path, func(r Record) error {
		replayedAgain = append(replayedAgain, string(r.Payload))
		return nil
	}))
	require.Equal(t, replayed, replayedAgain)
}

func TestApplyRollsBackWhenAppendFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.log")
	sl, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, sl.Close())

	rolledBack := false
	err = sl.Apply(Record{UserID: 1, Code: CreateStream},
		func() error { return nil },
		func() { rolledBack = true })
	require.Error(t, err)
	require.True(t, rolledBack)
}

func TestReplayMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Replay(filepath.Join(dir, "missing.log"), func(Record) error {
		t.Fatal("should not be called")
		return nil
	}))
}
