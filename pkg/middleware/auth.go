package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/stacklok/localghost/pkg/consent"
	"github.com/stacklok/localghost/pkg/logger"
	"github.com/stacklok/localghost/pkg/metrics"
	"github.com/stacklok/localghost/pkg/registry"
	"github.com/stacklok/localghost/pkg/store"
	"github.com/stacklok/localghost/pkg/token"
)

// Admission is the outcome state of the C6 state machine (spec.md §4.6).
type Admission string

const (
	PublicPass  Admission = "public_pass"
	TokenPass   Admission = "token_pass"
	StorePass   Admission = "store_pass"
	ConsentPass Admission = "consent_pass"
	Deny        Admission = "deny"
)

// Authorizer implements the C6 admission middleware over a registry, token
// manager, permission store, and optional consent coordinator. Coordinator
// may be nil, in which case a cache miss always denies (spec.md §4.6 step 5).
type Authorizer struct {
	Registry    *registry.Registry
	Tokens      *token.Manager
	Store       *store.Store
	Coordinator *consent.Coordinator
}

type unauthorizedBody struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
	Endpoint string `json:"endpoint"`
}

// Middleware returns the chi-compatible HTTP middleware implementing the
// admission state machine.
func (a *Authorizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if a.Registry.IsPublic(path) {
			next.ServeHTTP(w, r)
			return
		}

		clientID, err := a.identifyClient(r)
		if err != nil {
			logger.Warnf("failed to identify client for %s: %v", path, err)
			a.deny(w, r, "unknown", path)
			return
		}

		if claims := a.validateBearer(r, clientID); claims != nil {
			a.admit(w, r, next, clientID, claims.Permissions)
			return
		}

		if grant, err := a.Store.Check(r.Context(), clientID, path); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		} else if grant != nil {
			a.admit(w, r, next, clientID, grant.Permissions)
			return
		}

		if a.Coordinator == nil {
			a.deny(w, r, clientID, path)
			return
		}

		clientName := r.Header.Get("X-Process-Name")
		if clientName == "" {
			clientName = "unknown"
		}

		ep, _ := a.Registry.Lookup(path, r.Method)
		decision, err := a.Coordinator.Coordinate(r.Context(), clientID, clientName, path, ep.Permissions)
		if err != nil {
			logger.Errorf("consent coordination failed for %s -> %s: %v", clientID, path, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !decision.Approved {
			a.deny(w, r, clientID, path)
			return
		}

		a.admit(w, r, next, clientID, decision.Permissions)
	})
}

func (a *Authorizer) admit(w http.ResponseWriter, r *http.Request, next http.Handler, clientID string, permissions []string) {
	ctx := WithPermissions(WithClientID(r.Context(), clientID), permissions)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// identifyClient derives the client identity per spec.md §4.6 step 2:
// X-Client-ID verbatim if present, otherwise a hash of X-Process-Name
// (default "unknown") and optional X-Process-PID.
func (a *Authorizer) identifyClient(r *http.Request) (string, error) {
	if explicit := r.Header.Get("X-Client-ID"); explicit != "" {
		return explicit, nil
	}

	name := r.Header.Get("X-Process-Name")
	if name == "" {
		name = "unknown"
	}

	var pid *int
	if raw := r.Header.Get("X-Process-PID"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			pid = &parsed
		}
	}

	return token.DeriveClientID(name, pid)
}

// validateBearer checks the Authorization header for a bearer token,
// parsing the scheme case-insensitively, and returns its claims only when
// they are valid and the embedded client_id matches the derived identity
// (spec.md §4.6 step 3, and the tie-break in §4.6: a mismatched token is
// ignored, not an error).
func (a *Authorizer) validateBearer(r *http.Request, clientID string) *token.Claims {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil
	}

	const schemePrefix = "bearer "
	if len(header) < len(schemePrefix) || !strings.EqualFold(header[:len(schemePrefix)], schemePrefix) {
		return nil
	}

	tok := header[len(schemePrefix):]
	claims := a.Tokens.Validate(tok)
	if claims == nil || claims.ClientID != clientID {
		return nil
	}
	return claims
}

func (a *Authorizer) deny(w http.ResponseWriter, r *http.Request, clientID, endpoint string) {
	metrics.Denials.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(unauthorizedBody{
		Error:    "unauthorized",
		Message:  "Access requires authorization. Use system tray to approve.",
		ClientID: clientID,
		Endpoint: endpoint,
	})
}
