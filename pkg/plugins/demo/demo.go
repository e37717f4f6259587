// Package demo implements LocalGhost's built-in demo plugin: a handful of
// endpoints exercising every endpoint kind and used by the kernel's own
// end-to-end scenario tests (spec.md §8), grounded on original_source's
// plugins/demo.py.
package demo

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/stacklok/localghost/pkg/logger"
	"github.com/stacklok/localghost/pkg/registry"
)

// allowedCommands is the fixed allow-list for the /execute endpoint. Unlike
// original_source's shell-based demo, commands here are looked up and run
// directly via exec.Command with no shell interpolation, so untrusted
// arguments cannot escape into shell metacharacters.
var allowedCommands = map[string]struct{}{
	"echo":     {},
	"date":     {},
	"whoami":   {},
	"pwd":      {},
	"hostname": {},
}

// Plugin is the built-in demo plugin (SPEC_FULL.md §4's SUPPLEMENTED FEATURES).
type Plugin struct{}

// New constructs the demo plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string        { return "demo" }
func (p *Plugin) Version() string     { return "1.0.0" }
func (p *Plugin) Description() string { return "Built-in demo plugin for testing and documentation" }

// Endpoints implements registry.Plugin.
func (p *Plugin) Endpoints() []registry.Endpoint {
	return []registry.Endpoint{
		{
			Path:        "/ping",
			Method:      http.MethodGet,
			Kind:        registry.Public,
			Description: "Simple ping endpoint",
			Handler:     p.ping,
		},
		{
			Path:        "/echo",
			Method:      http.MethodPost,
			Kind:        registry.Public,
			Description: "Echo back the request body",
			Handler:     p.echo,
		},
		{
			Path:        "/time",
			Method:      http.MethodGet,
			Kind:        registry.Public,
			Description: "Get current server time",
			Handler:     p.getTime,
		},
		{
			Path:        "/system-info",
			Method:      http.MethodGet,
			Kind:        registry.Protected,
			Description: "Get system information (protected)",
			Permissions: []string{"read:system"},
			Handler:     p.systemInfo,
		},
		{
			Path:        "/execute",
			Method:      http.MethodPost,
			Kind:        registry.Protected,
			Description: "Execute an allow-listed command (protected)",
			Permissions: []string{"execute"},
			Handler:     p.execute,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("demo plugin: failed to encode response: %v", err)
	}
}

func (p *Plugin) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pong":      true,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (p *Plugin) echo(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	writeJSON(w, http.StatusOK, map[string]any{"echoed": body})
}

func (p *Plugin) getTime(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"iso":       now.Format(time.RFC3339),
		"unix":      now.Unix(),
		"formatted": now.Format("2006-01-02 15:04:05"),
	})
}

func (p *Plugin) systemInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info := map[string]any{}
	if hi, err := host.InfoWithContext(ctx); err == nil {
		info["platform"] = hi.Platform
		info["platform_version"] = hi.PlatformVersion
		info["kernel_version"] = hi.KernelVersion
		info["architecture"] = hi.KernelArch
		info["hostname"] = hi.Hostname
	} else {
		logger.Warnf("demo plugin: failed to read host info: %v", err)
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		info["cpu_count"] = counts
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info["memory_total_bytes"] = vm.Total
		info["memory_used_percent"] = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, info)
}

type executeRequest struct {
	Command string `json:"command"`
}

func (p *Plugin) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		req.Command = "echo hello"
	}

	fields := strings.Fields(req.Command)
	cmdName := ""
	if len(fields) > 0 {
		cmdName = fields[0]
	}

	if _, ok := allowedCommands[cmdName]; !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"error":  "command not allowed",
			"status": "denied",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, cmdName, fields[1:]...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	returnCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		returnCode = exitErr.ExitCode()
	} else if runErr != nil {
		returnCode = -1
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"command":    req.Command,
		"stdout":     strings.TrimSpace(stdout.String()),
		"stderr":     strings.TrimSpace(stderr.String()),
		"returncode": returnCode,
	})
}
