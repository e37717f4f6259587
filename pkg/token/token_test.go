package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, clock Clock) *Manager {
	t.Helper()
	secret, err := GenerateSecret()
	require.NoError(t, err)
	m, err := NewManager(secret, clock)
	require.NoError(t, err)
	return m
}

func TestMintValidateRoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	hours := 1.0
	tok, err := m.Mint("client-a", "/demo/echo", []string{"access"}, &hours)
	require.NoError(t, err)

	claims := m.Validate(tok)
	require.NotNil(t, claims)
	assert.Equal(t, "client-a", claims.ClientID)
	assert.Equal(t, "/demo/echo", claims.Endpoint)
	assert.Equal(t, []string{"access"}, claims.Permissions)
	require.NotNil(t, claims.ExpiresAt)
}

func TestMintWithoutExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	tok, err := m.Mint("client-a", "/demo/echo", []string{"access"}, nil)
	require.NoError(t, err)

	claims := m.Validate(tok)
	require.NotNil(t, claims)
	assert.Nil(t, claims.ExpiresAt)
}

func TestValidateExpired(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	hours := 1.0
	tok, err := m.Mint("client-a", "/demo/echo", []string{"access"}, &hours)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	assert.Nil(t, m.Validate(tok))
}

func TestValidateRejectsForeignKey(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	m1 := newTestManager(t, clock)
	m2 := newTestManager(t, clock)

	tok, err := m1.Mint("client-a", "/demo/echo", []string{"access"}, nil)
	require.NoError(t, err)

	assert.Nil(t, m2.Validate(tok))
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	tok, err := m.Mint("client-a", "/demo/echo", []string{"access"}, nil)
	require.NoError(t, err)

	tampered := tok[:len(tok)-2] + "xx"
	assert.Nil(t, m.Validate(tampered))
}

func TestValidateRejectsGarbage(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	assert.Nil(t, m.Validate("not-a-token"))
	assert.Nil(t, m.Validate(""))
}

func TestSessionTokenRejectedAfterRestart(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	secret, err := GenerateSecret()
	require.NoError(t, err)

	before, err := NewManager(secret, clock)
	require.NoError(t, err)

	tok, err := before.MintSession("client-a", "/demo/echo", []string{"access"})
	require.NoError(t, err)
	require.NotNil(t, before.Validate(tok))

	// Simulate a restart: same persisted secret, new process, new Manager
	// (and therefore a new boot epoch).
	after, err := NewManager(secret, clock)
	require.NoError(t, err)
	assert.Nil(t, after.Validate(tok))
}

func TestPermanentTokenSurvivesRestart(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	secret, err := GenerateSecret()
	require.NoError(t, err)

	before, err := NewManager(secret, clock)
	require.NoError(t, err)

	tok, err := before.Mint("client-a", "/demo/echo", []string{"access"}, nil)
	require.NoError(t, err)

	after, err := NewManager(secret, clock)
	require.NoError(t, err)
	assert.NotNil(t, after.Validate(tok))
}

func TestDeriveClientID(t *testing.T) {
	t.Parallel()

	id1, err := DeriveClientID("app", nil)
	require.NoError(t, err)
	assert.Len(t, id1, 16)

	pid := 42
	id2, err := DeriveClientID("app", &pid)
	require.NoError(t, err)
	assert.Len(t, id2, 16)
	assert.NotEqual(t, id1, id2)

	// Deterministic for the same inputs.
	id3, err := DeriveClientID("app", &pid)
	require.NoError(t, err)
	assert.Equal(t, id2, id3)

	_, err = DeriveClientID("", nil)
	assert.Error(t, err)
}
