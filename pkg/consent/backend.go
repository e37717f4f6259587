package consent

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/localghost/pkg/logger"
)

// NativePrompter selects an OS-appropriate dialog tool and shells out to it,
// the way original_source's consent/prompt.py dispatches on
// platform.system(). Each backend maps its own button vocabulary onto
// Result: osascript's "Allow Always"/"Allow Once"/"Deny" map to
// AllowPermanent/AllowOnce/Denied; PowerShell's Yes/No/Cancel map to
// AllowPermanent/AllowOnce/Denied; the binary-choice backends
// (zenity/kdialog) map "allow" to AllowPermanent and "deny" to Denied, per
// spec.md §4.4's fallback rule.
type NativePrompter struct {
	// runner executes a named command with args and returns trimmed
	// stdout. Overridden in tests to avoid depending on an installed
	// dialog tool.
	runner func(ctx context.Context, name string, args ...string) (string, error)
}

// NewNativePrompter constructs a Prompter that shells out to the host's
// native dialog tool.
func NewNativePrompter() *NativePrompter {
	return &NativePrompter{runner: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

// ErrNoDialogBackend means no supported dialog tool is installed on a
// Linux host (neither zenity nor kdialog). Callers treat this identically
// to a Denied result.
var ErrNoDialogBackend = errors.New("consent: no native dialog backend available")

// Prompt implements Prompter by dispatching on runtime.GOOS.
func (n *NativePrompter) Prompt(ctx context.Context, p Prompt) (Result, error) {
	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result Result
	var err error

	switch runtime.GOOS {
	case "darwin":
		result, err = n.promptDarwin(ctx, p)
	case "windows":
		result, err = n.promptWindows(ctx, p)
	default:
		result, err = n.promptLinux(ctx, p)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Infof("consent prompt for %s timed out after %ds", p.Endpoint, p.TimeoutSeconds)
		return Denied, nil
	}
	if err != nil {
		logger.Warnf("native consent dialog failed, treating as denied: %v", err)
		return Denied, err
	}
	return result, nil
}

func (n *NativePrompter) promptDarwin(ctx context.Context, p Prompt) (Result, error) {
	script := `display dialog "` + escapeAppleScript(p.message()) + `" ` +
		`buttons {"Deny", "Allow Once", "Allow Always"} default button "Deny" ` +
		`with title "LocalGhost Authorization" giving up after ` + strconv.Itoa(p.TimeoutSeconds)

	out, err := n.runner(ctx, "osascript", "-e", script)
	if err != nil {
		return Denied, err
	}
	switch {
	case strings.Contains(out, "Allow Always"):
		return AllowPermanent, nil
	case strings.Contains(out, "Allow Once"):
		return AllowOnce, nil
	default:
		return Denied, nil
	}
}

func (n *NativePrompter) promptWindows(ctx context.Context, p Prompt) (Result, error) {
	script := `Add-Type -AssemblyName System.Windows.Forms; ` +
		`$r = [System.Windows.Forms.MessageBox]::Show("` + escapePowerShell(p.message()) + `", ` +
		`"LocalGhost Authorization", [System.Windows.Forms.MessageBoxButtons]::YesNoCancel, ` +
		`[System.Windows.Forms.MessageBoxIcon]::Question); Write-Output $r`

	out, err := n.runner(ctx, "powershell", "-NoProfile", "-Command", script)
	if err != nil {
		return Denied, err
	}
	switch out {
	case "Yes":
		return AllowPermanent, nil
	case "No":
		return AllowOnce, nil
	default:
		return Denied, nil
	}
}

func (n *NativePrompter) promptLinux(ctx context.Context, p Prompt) (Result, error) {
	if _, err := n.runner(ctx, "zenity",
		"--question",
		"--title=LocalGhost Authorization",
		"--text="+p.message(),
		"--ok-label=Allow",
		"--cancel-label=Deny",
		"--timeout="+strconv.Itoa(p.TimeoutSeconds),
	); err == nil {
		return AllowPermanent, nil
	} else if !errors.Is(err, exec.ErrNotFound) {
		return Denied, nil
	}

	if _, err := n.runner(ctx, "kdialog", "--yesno", p.message(), "--title=LocalGhost Authorization"); err == nil {
		return AllowPermanent, nil
	} else if !errors.Is(err, exec.ErrNotFound) {
		return Denied, nil
	}

	return Denied, ErrNoDialogBackend
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func escapePowerShell(s string) string {
	return strings.ReplaceAll(s, `"`, "`\"")
}
