package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/localghost/pkg/registry"
)

type capabilitiesResponse struct {
	Version string                                 `json:"version"`
	Plugins map[string]registry.PluginCapability `json:"plugins"`
}

// CapabilitiesRouter serves GET /capabilities, a public endpoint
// (spec.md §4.3, §6).
func CapabilitiesRouter(reg *registry.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(capabilitiesResponse{
			Version: Version,
			Plugins: reg.Capabilities(),
		})
	})
	return r
}
