package calendar

import (
	"context"
	"fmt"
	"strings"
)

// Config selects the event store backend.
type Config struct {
	Backend    string
	SQLitePath string
	LinkBase   string
}

func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(cfg.LinkBase), nil
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath, cfg.LinkBase)
	default:
		return nil, fmt.Errorf("unsupported calendar store %q", cfg.Backend)
	}
}
