package kernel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stacklok/localghost/pkg/api"
	"github.com/stacklok/localghost/pkg/config"
	"github.com/stacklok/localghost/pkg/consent"
	"github.com/stacklok/localghost/pkg/kernel"
	"github.com/stacklok/localghost/pkg/token"
)

type mutableClock struct {
	now atomic.Int64
}

func newMutableClock(t time.Time) *mutableClock {
	c := &mutableClock{}
	c.now.Store(t.UnixNano())
	return c
}

func (c *mutableClock) Now() time.Time { return time.Unix(0, c.now.Load()) }
func (c *mutableClock) Advance(d time.Duration) {
	c.now.Store(c.now.Load() + int64(d))
}

func newScenarioKernel(t *testing.T, clock *mutableClock, prompter consent.Prompter) *kernel.Kernel {
	t.Helper()
	settings := config.Defaults()
	settings.DataDir = t.TempDir()
	settings.ConsentTimeoutSeconds = 5

	k, err := kernel.NewWithClock(settings, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	k.Coordinator = consent.NewCoordinator(prompter, k.Tokens, k.Store, consent.Settings{
		ConsentTimeoutSeconds:     settings.ConsentTimeoutSeconds,
		TokenExpiryHours:          settings.TokenExpiryHours,
		DefaultGrantDurationHours: settings.DefaultGrantDurationHours,
	})
	k.Authorizer.Coordinator = k.Coordinator
	return k
}

func countingPrompter(result consent.Result) (consent.Prompter, *atomic.Int32) {
	var calls atomic.Int32
	p := consent.PrompterFunc(func(_ context.Context, _ consent.Prompt) (consent.Result, error) {
		calls.Add(1)
		return result, nil
	})
	return p, &calls
}

// TestScenarioPublicPassesUnauthenticated is S1.
func TestScenarioPublicPassesUnauthenticated(t *testing.T) {
	prompter, _ := countingPrompter(consent.Denied)
	k := newScenarioKernel(t, newMutableClock(time.Now()), prompter)
	router := api.NewRouter(k, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

// TestScenarioFirstCallPromptsThenAllows is S2.
func TestScenarioFirstCallPromptsThenAllows(t *testing.T) {
	prompter, calls := countingPrompter(consent.AllowPermanent)
	k := newScenarioKernel(t, newMutableClock(time.Now()), prompter)
	router := api.NewRouter(k, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodGet, "/demo/system-info", nil)
	req.Header.Set("X-Process-Name", "app")
	req.Header.Set("X-Process-PID", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), calls.Load())

	wantClientID, err := token.DeriveClientID("app", intPtr(42))
	require.NoError(t, err)

	grants, err := k.Store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, wantClientID, grants[0].ClientID)
	assert.Equal(t, "permanent", string(grants[0].Kind))
	assert.Nil(t, grants[0].ExpiresAt)

	audit, err := k.Store.ListAudit(context.Background(), wantClientID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "grant", string(audit[0].Action))
}

// TestScenarioSubsequentCallIsCached is S3.
func TestScenarioSubsequentCallIsCached(t *testing.T) {
	prompter, calls := countingPrompter(consent.AllowPermanent)
	k := newScenarioKernel(t, newMutableClock(time.Now()), prompter)
	router := api.NewRouter(k, zap.NewNop().Sugar())

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/demo/system-info", nil)
		r.Header.Set("X-Process-Name", "app")
		r.Header.Set("X-Process-PID", "42")
		return r
	}

	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req())
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req())
	require.Equal(t, http.StatusOK, rec2.Code)

	assert.Equal(t, int32(1), calls.Load())

	clientID, err := token.DeriveClientID("app", intPtr(42))
	require.NoError(t, err)
	audit, err := k.Store.ListAudit(context.Background(), clientID)
	require.NoError(t, err)
	grantCount := 0
	for _, e := range audit {
		if string(e.Action) == "grant" {
			grantCount++
		}
	}
	assert.Equal(t, 1, grantCount)
}

// TestScenarioDenied is S4.
func TestScenarioDenied(t *testing.T) {
	prompter, _ := countingPrompter(consent.Denied)
	k := newScenarioKernel(t, newMutableClock(time.Now()), prompter)
	router := api.NewRouter(k, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodGet, "/demo/system-info", nil)
	req.Header.Set("X-Process-Name", "app")
	req.Header.Set("X-Process-PID", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"])
	assert.Equal(t, "/demo/system-info", body["endpoint"])

	clientID, err := token.DeriveClientID("app", intPtr(42))
	require.NoError(t, err)
	grant, err := k.Store.Check(context.Background(), clientID, "/demo/system-info")
	require.NoError(t, err)
	assert.Nil(t, grant)

	audit, err := k.Store.ListAudit(context.Background(), clientID)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

// TestScenarioTemporaryGrantExpires is S5.
func TestScenarioTemporaryGrantExpires(t *testing.T) {
	prompter, calls := countingPrompter(consent.AllowOnce)
	clock := newMutableClock(time.Now())
	k := newScenarioKernel(t, clock, prompter)
	router := api.NewRouter(k, zap.NewNop().Sugar())

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/demo/system-info", nil)
		r.Header.Set("X-Process-Name", "app")
		r.Header.Set("X-Process-PID", "42")
		return r
	}

	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req())
	require.Equal(t, http.StatusOK, rec1.Code)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(5*time.Minute + time.Second)

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req())
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, int32(2), calls.Load())
}

// TestScenarioBearerTokenMismatchFallsThroughToConsent is S6.
func TestScenarioBearerTokenMismatchFallsThroughToConsent(t *testing.T) {
	prompter, calls := countingPrompter(consent.AllowPermanent)
	k := newScenarioKernel(t, newMutableClock(time.Now()), prompter)
	router := api.NewRouter(k, zap.NewNop().Sugar())

	tokenForA, err := k.Tokens.Mint("client-a", "/demo/system-info", []string{"read:system"}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/demo/system-info", nil)
	req.Header.Set("X-Process-Name", "app")
	req.Header.Set("X-Process-PID", "42")
	req.Header.Set("Authorization", "Bearer "+tokenForA)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), calls.Load())

	wantClientID, err := token.DeriveClientID("app", intPtr(42))
	require.NoError(t, err)
	grant, err := k.Store.Check(context.Background(), wantClientID, "/demo/system-info")
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.NotEqual(t, "client-a", grant.ClientID)
}

func intPtr(i int) *int { return &i }
