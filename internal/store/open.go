package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/config"
)

// Open connects the backend selected by cfg.Driver and applies its schema.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Driver {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.DatabaseURL); dir != "." && cfg.DatabaseURL != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "store: create directory %s", dir)
			}
		}
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "store: migrate")
	}

	zap.L().Debug("store opened", zap.String("driver", cfg.Driver))
	return s, nil
}
