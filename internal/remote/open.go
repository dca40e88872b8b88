package remote

import (
	"context"
	"fmt"
)

// Open returns the configured store, or nil for backend "none" or "".
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres remote: database_url is required")
		}
		s, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis remote: redis_addr is required")
		}
		s, err := OpenRedis(ctx, cfg.RedisAddr, cfg.Password, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http remote: base_url is required")
		}
		return NewHTTPStore(cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
