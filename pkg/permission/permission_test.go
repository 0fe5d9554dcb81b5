package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootBypassesEveryCheck(t *testing.T) {
	root := Root()
	require.NoError(t, Check(root, ManageServer, Global()))
	require.NoError(t, Check(root, AppendMessages, OnTopic(1, 1)))
}

func TestGlobalGrantImpliesNarrowerScopes(t *testing.T) {
	s := NewSet()
	s.Grant(ReadTopics, Global())
	require.NoError(t, Check(s, ReadTopics, OnStream(5)))
	require.NoError(t, Check(s, ReadTopics, OnTopic(5, 9)))
	require.Error(t, Check(s, ManageTopics, OnTopic(5, 9)))
}

func TestStreamGrantImpliesItsTopicsOnly(t *testing.T) {
	s := NewSet()
	s.Grant(AppendMessages, OnStream(1))
	require.NoError(t, Check(s, AppendMessages, OnTopic(1, 1)))
	require.Error(t, Check(s, AppendMessages, OnTopic(2, 1)))
}

func TestUnauthorizedAppendLeavesNoGrant(t *testing.T) {
	s := NewSet()
	err := Check(s, AppendMessages, OnTopic(1, 1))
	require.Error(t, err)
}

func TestRevokeRemovesGrant(t *testing.T) {
	s := NewSet()
	s.Grant(PollMessages, OnTopic(1, 1))
	require.NoError(t, Check(s, PollMessages, OnTopic(1, 1)))
	s.Revoke(PollMessages, OnTopic(1, 1))
	require.Error(t, Check(s, PollMessages, OnTopic(1, 1)))
}
