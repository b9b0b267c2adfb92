package roles

import (
	"encoding/json"
	"sort"
)

// AdminRoleID is the static role seeded at startup. It always exists and
// survives every refresh operation.
const AdminRoleID = "admin"

// Statements maps a domain name to the set of allowed action strings.
type Statements map[string][]string

// Normalize returns a copy with duplicate actions collapsed and actions
// alphabetized. Ordering is irrelevant for evaluation but stable output
// keeps display and cache payloads deterministic.
func (s Statements) Normalize() Statements {
	out := make(Statements, len(s))
	for domain, actions := range s {
		seen := make(map[string]struct{}, len(actions))
		uniq := make([]string, 0, len(actions))
		for _, a := range actions {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			uniq = append(uniq, a)
		}
		sort.Strings(uniq)
		out[domain] = uniq
	}
	return out
}

// Allows reports whether the statements grant every requested action for
// the given domain.
func (s Statements) Allows(domain string, actions []string) bool {
	granted, ok := s[domain]
	if !ok {
		return false
	}
	set := make(map[string]struct{}, len(granted))
	for _, a := range granted {
		set[a] = struct{}{}
	}
	for _, a := range actions {
		if _, ok := set[a]; !ok {
			return false
		}
	}
	return true
}

// Domains returns the statement domains in sorted order.
func (s Statements) Domains() []string {
	domains := make([]string, 0, len(s))
	for d := range s {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// ParseStatements validates raw JSON against the required statement shape:
// an object whose every property is a non-empty array of strings. Anything
// else (arrays, scalars, empty action lists, mixed-type arrays) reports
// ok=false so loaders can discard malformed entries without failing.
func ParseStatements(raw json.RawMessage) (Statements, bool) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}
	if len(generic) == 0 {
		return nil, false
	}

	out := make(Statements, len(generic))
	for domain, v := range generic {
		list, ok := v.([]interface{})
		if !ok || len(list) == 0 {
			return nil, false
		}
		actions := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			actions = append(actions, s)
		}
		out[domain] = actions
	}
	return out.Normalize(), true
}

// Role is a compiled role held in the registry.
type Role struct {
	ID         string     `json:"id"`
	Statements Statements `json:"statements"`
	Dynamic    bool       `json:"dynamic"`
}

// StatementProvider contributes a named statement set to the static admin
// role. Providers are merged in order: a later provider's statement for a
// domain replaces an earlier provider's statement for that domain.
type StatementProvider struct {
	Name       string
	Statements Statements
}

// MergeProviders folds an ordered provider list into a single statement
// set under the later-wins-per-domain precedence rule.
func MergeProviders(providers ...StatementProvider) Statements {
	merged := make(Statements)
	for _, p := range providers {
		for domain, actions := range p.Statements {
			merged[domain] = actions
		}
	}
	return merged.Normalize()
}

// DefaultAdminProviders returns the statement sets compiled into the admin
// role at startup. Moderation grants live in their own provider so the
// moderation surface can evolve independently of the base admin grants.
func DefaultAdminProviders() []StatementProvider {
	return []StatementProvider{
		{
			Name: "core",
			Statements: Statements{
				"settings":   {"read", "update"},
				"invitation": {"create", "revoke"},
				"user":       {"ban", "list", "update"},
			},
		},
		{
			Name: "moderation",
			Statements: Statements{
				"violation":  {"create", "list", "manage", "update"},
				"moderation": {"view"},
			},
		},
	}
}
