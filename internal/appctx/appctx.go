// Package appctx replaces the global singletons spec.md §9 flags (a
// process-wide Redis client, API client, and logger reached from anywhere)
// with one struct built once in cmd/orchestrator and passed by reference
// into every component constructor.
package appctx

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/config"
)

// Context bundles the ambient dependencies every component needs: nothing
// here is reached via a package-level variable.
type Context struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *sql.DB
	Redis  *redis.Client
}

func New(cfg *config.Config, log *zap.Logger, db *sql.DB, rdb *redis.Client) *Context {
	return &Context{Config: cfg, Log: log, DB: db, Redis: rdb}
}
