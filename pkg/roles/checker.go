package roles

import (
	"context"
	"strings"

	"github.com/vortexhq/vortex/pkg/observability"
)

// PermissionRequest asks whether an identity may perform a set of actions
// in exactly one domain. More than one domain per request is rejected
// before any role lookup occurs.
type PermissionRequest struct {
	// Permission maps one domain name to the requested actions.
	Permission map[string][]string `json:"permission"`
	// UserID explicitly names the acting user. Optional.
	UserID string `json:"userId,omitempty"`
	// Role bypasses user resolution and checks against an explicit
	// comma-joined role string. Optional.
	Role string `json:"role,omitempty"`
}

// UserDirectory resolves a user id to their comma-joined role string.
type UserDirectory interface {
	UserRole(ctx context.Context, userID string) (string, error)
}

// SessionFunc resolves the current session's user id and role string from
// the request context.
type SessionFunc func(ctx context.Context) (userID, role string, ok bool)

// Checker decides allow/deny for permission requests against the registry.
// Every ambiguity, validation failure, or internal error resolves to a
// denial; Check never returns an error to its caller.
type Checker struct {
	registry *Registry
	users    UserDirectory
	session  SessionFunc
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewChecker creates a permission checker. session may be nil when no
// ambient session source exists (explicit user ids and roles still work).
func NewChecker(registry *Registry, users UserDirectory, session SessionFunc, logger *observability.Logger, metrics *observability.Metrics) *Checker {
	return &Checker{
		registry: registry,
		users:    users,
		session:  session,
		logger:   logger.Named("permissions"),
		metrics:  metrics,
	}
}

// Check evaluates a permission request. The request must carry exactly one
// domain. The acting identity is resolved in precedence order: explicit
// role string, explicit user id, current session. A comma-joined role
// string allows the request if ANY single role grants the full action set
// for the domain; partial grants across roles never combine.
func (c *Checker) Check(ctx context.Context, req PermissionRequest) bool {
	allowed := c.check(ctx, req)
	c.metrics.ObservePermissionCheck(allowed)
	return allowed
}

func (c *Checker) check(ctx context.Context, req PermissionRequest) bool {
	domain, actions, ok := singleDomain(req.Permission)
	if !ok {
		return false
	}

	// Serve whatever is loaded if initialization fails; the admin role is
	// always present.
	if err := c.registry.EnsureInitialized(ctx); err != nil {
		c.logger.WithError(err).Warn("role initialization failed during check")
	}

	roleStr := req.Role
	if roleStr == "" {
		userID := req.UserID
		if userID == "" {
			sessUser, sessRole, ok := c.currentSession(ctx)
			if !ok {
				return false
			}
			userID = sessUser
			roleStr = sessRole
		}
		if roleStr == "" {
			var err error
			roleStr, err = c.users.UserRole(ctx, userID)
			if err != nil {
				c.logger.WithError(err).WithField("user_id", userID).Warn("failed to resolve user role")
				return false
			}
		}
	}
	if roleStr == "" {
		return false
	}

	for _, roleID := range strings.Split(roleStr, ",") {
		roleID = strings.TrimSpace(roleID)
		if roleID == "" {
			continue
		}
		role, ok := c.registry.Get(roleID)
		if !ok {
			continue
		}
		if role.Statements.Allows(domain, actions) {
			return true
		}
	}
	return false
}

// EffectivePermissions aggregates permissions across whichever roles can
// be attributed to the user. The user-to-role mapping is not directly
// consulted: for each registered role, a single representative probe runs
// through Check, and a successful probe treats the whole role as held.
//
// This is an approximation for informational use (for example, deciding
// which settings sections to render). It is NOT a security boundary; the
// authoritative gate remains Check on each real action.
func (c *Checker) EffectivePermissions(ctx context.Context, userID string) Statements {
	if err := c.registry.EnsureInitialized(ctx); err != nil {
		c.logger.WithError(err).Warn("role initialization failed during aggregation")
	}

	if userID == "" {
		sessUser, _, ok := c.currentSession(ctx)
		if !ok {
			return Statements{}
		}
		userID = sessUser
	}

	effective := make(Statements)
	for _, roleID := range c.registry.IDs() {
		stmts, ok := c.registry.RawStatements(roleID)
		if !ok || len(stmts) == 0 {
			continue
		}

		domains := stmts.Domains()
		probeDomain := domains[0]
		probeAction := stmts[probeDomain][0]

		probe := PermissionRequest{
			Permission: map[string][]string{probeDomain: {probeAction}},
			UserID:     userID,
		}
		if !c.check(ctx, probe) {
			continue
		}

		for domain, actions := range stmts {
			effective[domain] = append(effective[domain], actions...)
		}
	}
	return effective.Normalize()
}

func (c *Checker) currentSession(ctx context.Context) (string, string, bool) {
	if c.session == nil {
		return "", "", false
	}
	return c.session(ctx)
}

// singleDomain validates the single-resource-check invariant and unpacks
// the one domain-actions pair.
func singleDomain(permission map[string][]string) (string, []string, bool) {
	if len(permission) != 1 {
		return "", nil, false
	}
	for domain, actions := range permission {
		if domain == "" || len(actions) == 0 {
			return "", nil, false
		}
		return domain, actions, true
	}
	return "", nil, false
}
