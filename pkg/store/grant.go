package store

import "time"

// GrantKind is the tagged enum of permission lifetimes from spec.md §3.
// Its expiry policy is computed once, in expiryFor, so the textual form
// never leaks into decision code paths elsewhere (spec.md §9).
type GrantKind string

const (
	// GrantTemporary expires 5 minutes after issuance (issued for ALLOW_ONCE);
	// until then it is honoured like any other grant.
	GrantTemporary GrantKind = "temporary"
	// GrantSession lives until process restart; see pkg/token's boot-epoch binding.
	GrantSession GrantKind = "session"
	// GrantTimed expires after a configured duration.
	GrantTimed GrantKind = "timed"
	// GrantPermanent never expires; it persists until explicit revoke.
	GrantPermanent GrantKind = "permanent"
)

const temporaryGrantDuration = 5 * time.Minute

// expiryFor computes the expires_at timestamp for a kind, given the grant
// time and an optional duration (used only by GrantTimed).
func expiryFor(kind GrantKind, grantedAt time.Time, durationHours *float64) *time.Time {
	switch kind {
	case GrantTemporary:
		t := grantedAt.Add(temporaryGrantDuration)
		return &t
	case GrantTimed:
		if durationHours == nil {
			return nil
		}
		t := grantedAt.Add(time.Duration(*durationHours * float64(time.Hour)))
		return &t
	case GrantSession, GrantPermanent:
		return nil
	default:
		return nil
	}
}

// Grant is a persisted permission decision (spec.md §3).
type Grant struct {
	ID          int64
	ClientID    string
	ClientName  string
	Endpoint    string
	Permissions []string
	Kind        GrantKind
	GrantedAt   time.Time
	ExpiresAt   *time.Time
	Token       string
}

// AuditAction enumerates the append-only audit log's action column.
type AuditAction string

const (
	AuditGrant      AuditAction = "grant"
	AuditRevoke     AuditAction = "revoke"
	AuditRevokeAll  AuditAction = "revoke_all"
)

// AuditEntry is one append-only audit log row (spec.md §3).
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	ClientID  string
	Endpoint  string
	Action    AuditAction
	Details   map[string]any
}
