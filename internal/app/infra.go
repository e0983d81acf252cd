package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/handshake"
	"github.com/MrEthical07/handshake/internal/config"
	"github.com/MrEthical07/handshake/internal/httpapi"
	"github.com/MrEthical07/handshake/userdb"
)

const pingTimeout = 2 * time.Second

var errRedisUnavailable = errors.New("redis unavailable")

// Infra holds the external connections. Nil members mean the in-memory
// fallback is in use.
type Infra struct {
	Redis     *redis.Client
	Pool      *pgxpool.Pool
	Directory handshake.IdentityDirectory
}

func setupInfra(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Infra, error) {
	infra := &Infra{}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := client.Ping(pctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.Redis = client
		logger.Info("redis ready", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory stores")
	}

	if cfg.Database.DSN != "" {
		pool, err := userdb.Open(ctx, cfg.Database.DSN)
		if err != nil {
			_ = infra.close(ctx)
			return nil, fmt.Errorf("postgres: %w", err)
		}
		infra.Pool = pool
		infra.Directory = userdb.NewPostgresDirectory(pool)
		logger.Info("database ready")
	} else {
		infra.Directory = userdb.NewMemoryDirectory()
		logger.Warn("DATABASE_DSN not set, using in-memory directory")
	}

	return infra, nil
}

func (i *Infra) checks(engine *handshake.Engine) map[string]httpapi.HealthCheck {
	checks := make(map[string]httpapi.HealthCheck, 2)
	if i.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			if status := engine.Health(ctx); !status.Healthy() {
				return errRedisUnavailable
			}
			return nil
		}
	}
	if i.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error {
			return i.Pool.Ping(ctx)
		}
	}
	return checks
}

func (i *Infra) close(context.Context) error {
	var errs []error
	if i.Pool != nil {
		i.Pool.Close()
		i.Pool = nil
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
		i.Redis = nil
	}
	return errors.Join(errs...)
}
