package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateAuthenticateAndRemove(t *testing.T) {
	r := NewRegistry()
	s := r.Create("127.0.0.1:1234")
	require.False(t, s.Authenticated)

	require.NoError(t, r.Authenticate(s.ClientID, 7))
	got, ok := r.Get(s.ClientID)
	require.True(t, ok)
	require.True(t, got.Authenticated)
	require.Equal(t, uint32(7), got.UserID)

	r.Remove(s.ClientID)
	_, ok = r.Get(s.ClientID)
	require.False(t, ok)
}

func TestEvictIdleRemovesStaleSessions(t *testing.T) {
	r := NewRegistry()
	s1 := r.Create("a")
	s2 := r.Create("b")
	s1.LastHeartbeat = time.Now().Add(-time.Hour)

	evicted := r.EvictIdle(time.Now(), time.Minute)
	require.Equal(t, []uint32{s1.ClientID}, evicted)

	_, ok := r.Get(s1.ClientID)
	require.False(t, ok)
	_, ok = r.Get(s2.ClientID)
	require.True(t, ok)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, VerifyPassword(hash, "correct horse battery staple"))
	require.False(t, VerifyPassword(hash, "wrong"))
}

func TestTokenDigestRoundTrip(t *testing.T) {
	tok, err := GenerateToken()
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	d1 := DigestToken(tok)
	d2 := DigestToken(tok)
	require.True(t, TokensEqual(d1, d2))
	require.False(t, TokensEqual(d1, DigestToken("other")))
}
