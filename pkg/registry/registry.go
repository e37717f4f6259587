// Package registry implements the authorization kernel's endpoint registry
// (C3): it holds plugin-provided endpoints keyed by their full route,
// classifies each as public or protected, and drives both routing and the
// /capabilities listing.
package registry

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/stacklok/localghost/pkg/logger"
)

// Kind classifies an endpoint's visibility.
type Kind string

const (
	// Public endpoints bypass the authorization middleware entirely.
	Public Kind = "public"
	// Protected endpoints are subject to the C6 admission state machine.
	Protected Kind = "protected"
)

// Endpoint is one route a plugin exposes (spec.md §3). Handler is the
// capability invoked once admission passes; it is an ordinary
// http.HandlerFunc, so no runtime reflection is needed to dispatch it
// (spec.md §9).
type Endpoint struct {
	Path        string
	Method      string
	Kind        Kind
	Description string
	Permissions []string
	Handler     http.HandlerFunc
}

// Plugin groups a named, versioned set of endpoints.
type Plugin interface {
	Name() string
	Version() string
	Description() string
	Endpoints() []Endpoint
}

type routeKey struct {
	path   string
	method string
}

// Registry holds the set of registered plugins and the index from full
// path+method to Endpoint. It is written only at startup and via explicit
// (Un)Register calls; reads are lock-light via RWMutex (spec.md §5).
type Registry struct {
	mu        sync.RWMutex
	plugins   map[string]Plugin
	endpoints map[routeKey]Endpoint
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		plugins:   make(map[string]Plugin),
		endpoints: make(map[routeKey]Endpoint),
	}
}

// Register installs a plugin's endpoints under "/" + plugin.Name() +
// endpoint.Path. Registering a name that is already present is a no-op
// with a warning (idempotence, spec.md §3's uniqueness invariant).
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.Name()]; exists {
		logger.Warnf("plugin %q already registered, skipping", p.Name())
		return nil
	}

	// Validate the full (path, method) uniqueness invariant before
	// mutating any state, so a conflicting plugin registration fails
	// atomically rather than partially installing routes.
	newRoutes := make(map[routeKey]Endpoint, len(p.Endpoints()))
	for _, ep := range p.Endpoints() {
		full := fullPath(p.Name(), ep.Path)
		key := routeKey{path: full, method: ep.Method}
		if _, exists := r.endpoints[key]; exists {
			return fmt.Errorf("registry: route %s %s already registered", ep.Method, full)
		}
		if _, exists := newRoutes[key]; exists {
			return fmt.Errorf("registry: plugin %q declares duplicate route %s %s", p.Name(), ep.Method, full)
		}
		ep.Path = full
		newRoutes[key] = ep
	}

	for key, ep := range newRoutes {
		r.endpoints[key] = ep
	}
	r.plugins[p.Name()] = p

	logger.Infof("registered plugin %q v%s with %d endpoints", p.Name(), p.Version(), len(newRoutes))
	return nil
}

// Unregister removes a plugin and its routes. Unregistering an unknown
// plugin is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.plugins[name]
	if !exists {
		return
	}

	for _, ep := range p.Endpoints() {
		delete(r.endpoints, routeKey{path: fullPath(name, ep.Path), method: ep.Method})
	}
	delete(r.plugins, name)
	logger.Infof("unregistered plugin %q", name)
}

// Lookup returns the endpoint registered at (path, method), if any.
func (r *Registry) Lookup(path, method string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[routeKey{path: path, method: method}]
	return ep, ok
}

// IsPublic returns true iff path is registered as a public endpoint (for
// any method) or begins with "/public/" (spec.md §4.3).
func (r *Registry) IsPublic(path string) bool {
	if hasPublicPrefix(path) {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, ep := range r.endpoints {
		if key.path == path && ep.Kind == Public {
			return true
		}
	}
	return false
}

func hasPublicPrefix(path string) bool {
	const prefix = "/public/"
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

// PluginCapability is one entry of the /capabilities snapshot.
type PluginCapability struct {
	Version     string               `json:"version"`
	Description string               `json:"description"`
	Endpoints   []EndpointCapability `json:"endpoints"`
}

// EndpointCapability describes one endpoint within a plugin's capabilities.
type EndpointCapability struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Capabilities returns a snapshot of every registered plugin's endpoints,
// keyed by plugin name, for the /capabilities endpoint.
func (r *Registry) Capabilities() map[string]PluginCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]PluginCapability, len(r.plugins))
	for name, p := range r.plugins {
		var endpoints []EndpointCapability
		for _, ep := range p.Endpoints() {
			endpoints = append(endpoints, EndpointCapability{
				Path:        fullPath(name, ep.Path),
				Method:      ep.Method,
				Type:        string(ep.Kind),
				Description: ep.Description,
			})
		}
		sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Path < endpoints[j].Path })
		out[name] = PluginCapability{
			Version:     p.Version(),
			Description: p.Description(),
			Endpoints:   endpoints,
		}
	}
	return out
}

// Routes returns every registered endpoint, for mounting onto an HTTP
// router at startup.
func (r *Registry) Routes() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func fullPath(pluginName, localPath string) string {
	return "/" + pluginName + localPath
}
