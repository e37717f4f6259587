package consent

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/stacklok/localghost/pkg/logger"
	"github.com/stacklok/localghost/pkg/metrics"
	"github.com/stacklok/localghost/pkg/store"
	"github.com/stacklok/localghost/pkg/token"
)

// Decision is the coordinator's outcome for one consent flow.
type Decision struct {
	Approved    bool
	Permissions []string
	Token       string
}

// Settings carries the coordinator's tunable durations (spec.md §6).
type Settings struct {
	ConsentTimeoutSeconds     int
	TokenExpiryHours          int
	DefaultGrantDurationHours int
}

// Coordinator is the consent coordinator (C5): it orchestrates prompt,
// grant-kind mapping, token minting, and persistence, deduplicating
// concurrent requests for the same (client, endpoint) pair.
type Coordinator struct {
	prompter Prompter
	tokens   *token.Manager
	store    *store.Store
	settings Settings

	sf singleflight.Group
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(prompter Prompter, tokens *token.Manager, permStore *store.Store, settings Settings) *Coordinator {
	return &Coordinator{
		prompter: prompter,
		tokens:   tokens,
		store:    permStore,
		settings: settings,
	}
}

// Coordinate runs the full consent flow for (clientID, endpoint), or joins
// an already in-flight flow for the same pair (spec.md §4.5, §5, §8.8).
func (c *Coordinator) Coordinate(ctx context.Context, clientID, clientName, endpoint string, requestedPermissions []string) (Decision, error) {
	key := clientID + "\x00" + endpoint

	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.run(ctx, clientID, clientName, endpoint, requestedPermissions)
	})
	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

func (c *Coordinator) run(ctx context.Context, clientID, clientName, endpoint string, requestedPermissions []string) (Decision, error) {
	if len(requestedPermissions) == 0 {
		requestedPermissions = []string{"access"}
	}

	prompt := Prompt{
		ClientID:       clientID,
		ClientName:     clientName,
		Endpoint:       endpoint,
		Permissions:    requestedPermissions,
		TimeoutSeconds: c.settings.ConsentTimeoutSeconds,
	}

	logger.Infof("requesting consent for %s -> %s", clientName, endpoint)
	metrics.ActivePrompts.Inc()
	result, err := c.prompter.Prompt(ctx, prompt)
	metrics.ActivePrompts.Dec()
	if err != nil {
		logger.Warnf("consent prompt error for %s -> %s: %v", clientName, endpoint, err)
	}
	logger.Infof("consent result for %s -> %s: %s", clientName, endpoint, result)

	if result == Denied {
		return Decision{Approved: false}, nil
	}

	kind, ok := grantKindFor(result)
	if !ok {
		return Decision{Approved: false}, fmt.Errorf("consent: unrecognized prompt result %q", result)
	}

	tok, duration, err := c.mint(kind, clientID, endpoint, requestedPermissions)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to mint token: %w", err)
	}

	if err := c.store.Grant(ctx, clientID, clientName, endpoint, requestedPermissions, kind, tok, duration); err != nil {
		return Decision{}, fmt.Errorf("failed to persist grant: %w", err)
	}
	metrics.GrantsIssued.WithLabelValues(string(kind)).Inc()

	return Decision{Approved: true, Permissions: requestedPermissions, Token: tok}, nil
}

func grantKindFor(result Result) (store.GrantKind, bool) {
	switch result {
	case AllowOnce:
		return store.GrantTemporary, true
	case AllowSession:
		return store.GrantSession, true
	case AllowTimed:
		return store.GrantTimed, true
	case AllowPermanent:
		return store.GrantPermanent, true
	default:
		return "", false
	}
}

func (c *Coordinator) mint(kind store.GrantKind, clientID, endpoint string, permissions []string) (string, *float64, error) {
	switch kind {
	case store.GrantSession:
		tok, err := c.tokens.MintSession(clientID, endpoint, permissions)
		return tok, nil, err
	case store.GrantPermanent:
		tok, err := c.tokens.Mint(clientID, endpoint, permissions, nil)
		return tok, nil, err
	case store.GrantTimed:
		hours := float64(c.settings.DefaultGrantDurationHours)
		tok, err := c.tokens.Mint(clientID, endpoint, permissions, &hours)
		return tok, &hours, err
	default: // store.GrantTemporary
		hours := float64(c.settings.TokenExpiryHours)
		tok, err := c.tokens.Mint(clientID, endpoint, permissions, &hours)
		return tok, nil, err
	}
}
