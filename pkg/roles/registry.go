package roles

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vortexhq/vortex/pkg/cache"
	"github.com/vortexhq/vortex/pkg/observability"
)

const (
	roleKeyPrefix  = "vortex:role:"
	roleKeyPattern = "vortex:role:*"

	// VersionKey is bumped after every refresh for external change detection.
	VersionKey = "vortex:roles:version"
)

// Store is the durable source of role definitions.
type Store interface {
	ListRoles(ctx context.Context) ([]StoredRole, error)
}

// StoredRole is a raw role row from the durable store.
type StoredRole struct {
	ID         string
	Statements json.RawMessage
}

// Registry holds the in-memory role-id to compiled role mapping, backed by
// the cache and the durable store. The maps are mutated only by Registry
// methods; map writes are synchronous under the mutex, so a role is never
// observable half-registered.
type Registry struct {
	mu         sync.RWMutex
	roles      map[string]*Role
	statements map[string]Statements

	store   Store
	cache   *cache.Cache
	logger  *observability.Logger
	metrics *observability.Metrics

	cacheTTL time.Duration

	group       singleflight.Group
	initialized atomic.Bool
}

// NewRegistry creates a registry seeded with the static admin role
// compiled from the given providers. When providers is empty,
// DefaultAdminProviders is used.
func NewRegistry(store Store, c *cache.Cache, logger *observability.Logger, metrics *observability.Metrics, providers ...StatementProvider) *Registry {
	if len(providers) == 0 {
		providers = DefaultAdminProviders()
	}

	r := &Registry{
		roles:      make(map[string]*Role),
		statements: make(map[string]Statements),
		store:      store,
		cache:      c,
		logger:     logger.Named("roles"),
		metrics:    metrics,
		cacheTTL:   24 * time.Hour,
	}

	admin := MergeProviders(providers...)
	r.roles[AdminRoleID] = &Role{ID: AdminRoleID, Statements: admin, Dynamic: false}
	r.statements[AdminRoleID] = admin
	r.updateGauge()

	return r
}

// SetCacheTTL overrides the TTL applied to cache backfills.
func (r *Registry) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		r.cacheTTL = ttl
	}
}

// RegisterDynamic registers a dynamic role. Returns false without touching
// anything when the id is already present, which makes redundant calls from
// the cache-load and store-load paths harmless.
func (r *Registry) RegisterDynamic(id string, stmts Statements) bool {
	if id == "" || len(stmts) == 0 {
		return false
	}

	normalized := stmts.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roles[id]; exists {
		return false
	}

	r.roles[id] = &Role{ID: id, Statements: normalized, Dynamic: true}
	r.statements[id] = normalized
	r.updateGaugeLocked()
	return true
}

// Get returns the compiled role for id.
func (r *Registry) Get(id string) (*Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	return role, ok
}

// RawStatements returns the normalized statements registered for id.
func (r *Registry) RawStatements(id string) (Statements, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stmts, ok := r.statements[id]
	return stmts, ok
}

// IDs returns all registered role ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.roles))
	for id := range r.roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered roles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}

// ClearDynamic removes every dynamic role. Static roles, and admin in
// particular, always survive. Returns the number of roles removed.
func (r *Registry) ClearDynamic() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, role := range r.roles {
		if !role.Dynamic || id == AdminRoleID {
			continue
		}
		delete(r.roles, id)
		delete(r.statements, id)
		removed++
	}
	r.updateGaugeLocked()
	return removed
}

// LoadFromCache scans all role cache keys, batch-fetches their values, and
// registers every well-formed role not already present. Malformed entries
// are discarded silently. Returns the number of roles loaded.
func (r *Registry) LoadFromCache(ctx context.Context) int {
	keys := r.cache.ScanKeys(ctx, roleKeyPattern)
	if len(keys) == 0 {
		return 0
	}

	values := r.cache.MGetJSON(ctx, keys)

	loaded := 0
	for key, raw := range values {
		id := strings.TrimPrefix(key, roleKeyPrefix)
		if id == "" || id == key {
			continue
		}

		stmts, ok := ParseStatements(raw)
		if !ok {
			r.logger.WithField("role", id).Debug("discarded malformed cached role")
			continue
		}

		if r.RegisterDynamic(id, stmts) {
			loaded++
		}
	}

	if loaded > 0 {
		r.logger.Infof("loaded %d roles from cache", loaded)
	}
	return loaded
}

// LoadFromDB queries all durable role rows and registers every valid row
// missing from the registry, backfilling the cache best-effort for each.
// A store failure is logged and treated as zero roles loaded this pass.
// Returns the number of roles created.
func (r *Registry) LoadFromDB(ctx context.Context) int {
	rows, err := r.store.ListRoles(ctx)
	if err != nil {
		r.logger.WithError(err).Error("failed to load roles from store")
		return 0
	}

	created := 0
	for _, row := range rows {
		stmts, ok := ParseStatements(row.Statements)
		if !ok {
			r.logger.WithField("role", row.ID).Warn("discarded malformed stored role")
			continue
		}

		if !r.RegisterDynamic(row.ID, stmts) {
			continue
		}
		created++

		// Fire-and-forget cache backfill; SetJSON logs its own failures.
		go func(id string, stmts Statements) {
			bctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.cache.SetJSON(bctx, roleKeyPrefix+id, stmts, r.cacheTTL)
		}(row.ID, stmts)
	}

	if created > 0 {
		r.logger.Infof("loaded %d roles from store", created)
	}
	return created
}

// EnsureInitialized lazily runs the cache load followed by the store load
// exactly once per process lifetime. Concurrent callers share the same
// in-flight run; calls after completion are free no-ops until
// ResetInitialized is invoked.
func (r *Registry) EnsureInitialized(ctx context.Context) error {
	if r.initialized.Load() {
		return nil
	}

	_, err, _ := r.group.Do("init", func() (interface{}, error) {
		if r.initialized.Load() {
			return nil, nil
		}
		cacheLoaded := r.LoadFromCache(ctx)
		dbLoaded := r.LoadFromDB(ctx)
		r.initialized.Store(true)
		r.logger.Infof("role registry initialized: %d from cache, %d from store, %d total", cacheLoaded, dbLoaded, r.Len())
		return nil, nil
	})
	return err
}

// ResetInitialized arms EnsureInitialized to run again on demand.
func (r *Registry) ResetInitialized() {
	r.initialized.Store(false)
}

// Initialized reports whether the one-time initialization has completed.
func (r *Registry) Initialized() bool {
	return r.initialized.Load()
}

// BustCache deletes all role cache keys in a single pipelined batch and
// returns the number of keys removed.
func (r *Registry) BustCache(ctx context.Context) int {
	keys := r.cache.ScanKeys(ctx, roleKeyPattern)
	if len(keys) == 0 {
		return 0
	}
	return r.cache.DelKeys(ctx, keys)
}

func (r *Registry) updateGauge() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.updateGaugeLocked()
}

func (r *Registry) updateGaugeLocked() {
	if r.metrics != nil {
		r.metrics.RolesRegistered.Set(float64(len(r.roles)))
	}
}
