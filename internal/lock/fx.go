package lock

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paymentsvc/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

func NewLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Locker, error) {
	lockCfg := cfg.Lock
	switch lockCfg.Backend {
	case "", config.LockBackendLocal:
		return NewLocalLocker(lockCfg.Wait), nil
	case config.LockBackendRedis:
	default:
		return nil, errors.New("unsupported lock backend: " + lockCfg.Backend)
	}

	addr := strings.TrimSpace(lockCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("lock redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: lockCfg.RedisPassword,
		DB:       lockCfg.RedisDB,
	})
	locker, err := NewRedisLocker(client, lockCfg.TTL, lockCfg.Wait, log)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return locker, nil
}
