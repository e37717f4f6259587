// Package kernel wires the authorization kernel's components (C1-C8) into a
// single constructed instance, replacing the module-level globals of
// original_source's server.py per spec.md §9's redesign note.
package kernel

import (
	"fmt"
	"net/http"
	"time"

	"github.com/stacklok/localghost/pkg/config"
	"github.com/stacklok/localghost/pkg/consent"
	"github.com/stacklok/localghost/pkg/logger"
	"github.com/stacklok/localghost/pkg/middleware"
	"github.com/stacklok/localghost/pkg/plugins/demo"
	"github.com/stacklok/localghost/pkg/registry"
	"github.com/stacklok/localghost/pkg/secretkeeper"
	"github.com/stacklok/localghost/pkg/store"
	"github.com/stacklok/localghost/pkg/token"
)

// Kernel holds every long-lived component the running service needs. It is
// constructed once at startup by cmd/localghostd and threaded explicitly
// everywhere it is needed, rather than reached for as a package-level
// singleton.
type Kernel struct {
	Settings    config.Settings
	Tokens      *token.Manager
	Store       *store.Store
	Registry    *registry.Registry
	Prompter    consent.Prompter
	Coordinator *consent.Coordinator
	Authorizer  *middleware.Authorizer
}

// Clock abstracts time for the store and token manager together, letting
// end-to-end tests (spec.md §8's S5 in particular) advance time without
// sleeping.
type Clock interface {
	Now() time.Time
}

// New constructs a Kernel from settings: loads or creates the process
// secret key (C7), opens the permission store (C2), builds the token
// manager (C1), the endpoint registry (C3) pre-loaded with the demo plugin,
// the native consent prompter (C4) and coordinator (C5), and the admission
// middleware (C6).
func New(settings config.Settings) (*Kernel, error) {
	return NewWithClock(settings, nil)
}

// NewWithClock is New with an injectable clock shared by the permission
// store and token manager, for deterministic expiry tests.
func NewWithClock(settings config.Settings, clock Clock) (*Kernel, error) {
	secret, err := secretkeeper.LoadOrCreate(settings.SecretPath())
	if err != nil {
		return nil, fmt.Errorf("kernel: failed to load secret key: %w", err)
	}

	tokens, err := token.NewManager(secret, clock)
	if err != nil {
		return nil, fmt.Errorf("kernel: failed to construct token manager: %w", err)
	}

	permStore, err := store.Open(settings.DBPath(), clock)
	if err != nil {
		return nil, fmt.Errorf("kernel: failed to open permission store: %w", err)
	}

	reg := registry.New()
	if err := reg.Register(demo.New()); err != nil {
		permStore.Close() //nolint:errcheck
		return nil, fmt.Errorf("kernel: failed to register demo plugin: %w", err)
	}

	prompter := consent.NewNativePrompter()
	coordinator := consent.NewCoordinator(prompter, tokens, permStore, consent.Settings{
		ConsentTimeoutSeconds:     settings.ConsentTimeoutSeconds,
		TokenExpiryHours:          settings.TokenExpiryHours,
		DefaultGrantDurationHours: settings.DefaultGrantDurationHours,
	})

	authorizer := &middleware.Authorizer{
		Registry:    reg,
		Tokens:      tokens,
		Store:       permStore,
		Coordinator: coordinator,
	}

	return &Kernel{
		Settings:    settings,
		Tokens:      tokens,
		Store:       permStore,
		Registry:    reg,
		Prompter:    prompter,
		Coordinator: coordinator,
		Authorizer:  authorizer,
	}, nil
}

// Close releases the kernel's held resources (currently just the store's
// database connection).
func (k *Kernel) Close() error {
	return k.Store.Close()
}

// Middleware returns the admission middleware to wrap protected routes.
func (k *Kernel) Middleware(next http.Handler) http.Handler {
	return k.Authorizer.Middleware(next)
}

// RegisterPlugin installs an additional plugin into the kernel's registry.
// The registry itself enforces the one-time-registration invariant (spec.md
// §9's redesign note), so calling this twice for the same plugin name is a
// harmless no-op.
func (k *Kernel) RegisterPlugin(p registry.Plugin) error {
	if err := k.Registry.Register(p); err != nil {
		return fmt.Errorf("kernel: failed to register plugin %q: %w", p.Name(), err)
	}
	logger.Infof("kernel: plugin %q ready", p.Name())
	return nil
}
