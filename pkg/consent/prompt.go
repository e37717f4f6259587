// Package consent implements the authorization kernel's consent prompter
// (C4) and consent coordinator (C5): presenting a native modal dialog to
// the local user, mapping the result onto a grant, and deduplicating
// concurrent identical requests.
package consent

import (
	"context"
	"fmt"
	"strings"
)

// Result is the outcome of a consent prompt (spec.md §4.4).
type Result string

const (
	Denied         Result = "denied"
	AllowOnce      Result = "allow_once"
	AllowSession   Result = "allow_session"
	AllowTimed     Result = "allow_timed"
	AllowPermanent Result = "allow_permanent"
)

// Prompt carries everything a backend needs to render the dialog.
type Prompt struct {
	ClientID       string
	ClientName     string
	Endpoint       string
	Permissions    []string
	TimeoutSeconds int
}

func (p Prompt) message() string {
	return fmt.Sprintf(
		"The application '%s' wants to access:\n\n%s\n\nPermissions: %s",
		p.ClientName, p.Endpoint, strings.Join(p.Permissions, ", "),
	)
}

// Prompter presents a modal dialog and returns the user's choice. A
// dismissed dialog or an elapsed timeout must return Denied, not an error:
// errors are reserved for backend failures (e.g. no dialog tool installed),
// which callers treat as Denied as well per spec.md §4.4.
type Prompter interface {
	Prompt(ctx context.Context, p Prompt) (Result, error)
}

// PrompterFunc adapts a function to the Prompter interface, the way
// http.HandlerFunc adapts a function to http.Handler — convenient for
// tests.
type PrompterFunc func(ctx context.Context, p Prompt) (Result, error)

// Prompt implements Prompter.
func (f PrompterFunc) Prompt(ctx context.Context, p Prompt) (Result, error) { return f(ctx, p) }
