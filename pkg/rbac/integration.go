package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/directory"
	"github.com/platinummonkey/wrench/pkg/observability"
)

// Config holds RBAC wiring options
type Config struct {
	// Catalog replaces the built-in catalog when set
	Catalog *Catalog

	// CacheEnabled turns on the effective-set cache
	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration

	// Redis is the optional L2 cache
	Redis *redis.Client

	// GuardRoutes checks the actor's sidebar permissions on every route
	GuardRoutes bool

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheEnabled: true,
		CacheSize:    1024,
		CacheTTL:     5 * time.Minute,
	}
}

// Manager bundles the engine with its stores and HTTP surface
type Manager struct {
	engine     *Engine
	audit      audit.Store
	handlers   *Handlers
	middleware *PermissionMiddleware
	config     Config
}

// NewMemoryManager wires an engine over in-process stores
func NewMemoryManager(dir directory.Directory, config Config) *Manager {
	auditStore := audit.NewMemoryStore()
	return newManager(NewMemoryStore(auditStore), auditStore, dir, config)
}

// NewSQLManager migrates db and wires an engine over the PostgreSQL stores
func NewSQLManager(ctx context.Context, db *sql.DB, config Config) (*Manager, error) {
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	if err := RunMigrations(ctx, db, logger); err != nil {
		return nil, err
	}
	auditStore, err := audit.NewDBStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit store: %w", err)
	}
	return newManager(NewSQLStore(db, auditStore), auditStore, directory.NewSQLDirectory(db), config), nil
}

func newManager(store Store, auditStore audit.Store, dir directory.Directory, config Config) *Manager {
	catalog := config.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts := []EngineOption{WithMetrics(config.Metrics), WithLogger(logger)}
	if config.CacheEnabled {
		opts = append(opts, WithCache(NewEffectiveCache(config.CacheSize, config.CacheTTL, config.Redis, config.Metrics, logger)))
	}
	engine := NewEngine(catalog, store, dir, opts...)

	mw := NewPermissionMiddleware(NewPermissionChecker(engine))
	var guard *PermissionMiddleware
	if config.GuardRoutes {
		guard = mw
	}

	return &Manager{
		engine:     engine,
		audit:      auditStore,
		handlers:   NewHandlers(engine, guard),
		middleware: mw,
		config:     config,
	}
}

// Initialize rebuilds users_count from the directory
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.engine.RecountUsers(ctx); err != nil {
		return fmt.Errorf("failed to recount users: %w", err)
	}
	return nil
}

// RegisterRoutes registers the RBAC and audit routes. With GuardRoutes the
// audit trail requires view on administration.profiles.
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)

	auditRouter := router.NewRoute().Subrouter()
	if m.config.GuardRoutes {
		auditRouter.Use(m.middleware.RequirePermission("administration.profiles", ActionView))
	}
	audit.NewHandlers(m.audit).RegisterRoutes(auditRouter)
}

// Guard returns the middleware used on routes, nil when routes are open
func (m *Manager) Guard() *PermissionMiddleware {
	if !m.config.GuardRoutes {
		return nil
	}
	return m.middleware
}

// Engine returns the permission engine
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Audit returns the audit store
func (m *Manager) Audit() audit.Store {
	return m.audit
}

// Middleware returns the permission middleware for routes outside /rbac
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}
