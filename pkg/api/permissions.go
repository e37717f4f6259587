package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/localghost/pkg/logger"
	"github.com/stacklok/localghost/pkg/store"
)

type grantResponse struct {
	ClientID    string   `json:"client_id"`
	ClientName  string   `json:"client_name,omitempty"`
	Endpoint    string   `json:"endpoint"`
	Permissions []string `json:"permissions"`
	GrantType   string   `json:"grant_type"`
	GrantedAt   string   `json:"granted_at"`
	ExpiresAt   *string  `json:"expires_at,omitempty"`
}

func toGrantResponse(g store.Grant) grantResponse {
	resp := grantResponse{
		ClientID:    g.ClientID,
		ClientName:  g.ClientName,
		Endpoint:    g.Endpoint,
		Permissions: g.Permissions,
		GrantType:   string(g.Kind),
		GrantedAt:   g.GrantedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if g.ExpiresAt != nil {
		s := g.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
		resp.ExpiresAt = &s
	}
	return resp
}

// PermissionsRouter serves the admin grant-management surface (SPEC_FULL.md
// §4 SUPPLEMENTED FEATURES): listing every grant and revoking by client or by
// (client, endpoint) pair. These routes sit behind the same admission
// middleware as any other protected endpoint; there is no separate admin
// auth layer.
func PermissionsRouter(permStore *store.Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		grants, err := permStore.ListAll(r.Context())
		if err != nil {
			http.Error(w, "failed to list permissions", http.StatusInternalServerError)
			return
		}
		resp := make([]grantResponse, 0, len(grants))
		for _, g := range grants {
			resp = append(resp, toGrantResponse(g))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warnf("permissions: failed to encode response: %v", err)
		}
	})
	r.Delete("/{clientID}", func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "clientID")
		if err := permStore.RevokeAll(r.Context(), clientID); err != nil {
			http.Error(w, "failed to revoke permissions", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/{clientID}/*", func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "clientID")
		endpoint := "/" + chi.URLParam(r, "*")
		if err := permStore.Revoke(r.Context(), clientID, endpoint); err != nil {
			http.Error(w, "failed to revoke permission", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}
