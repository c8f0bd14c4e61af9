package locks

import (
	"github.com/nimbushost/fleet/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("locks",
	fx.Provide(func(cfg config.Config) *redis.Client {
		if cfg.RedisAddr == "" {
			return nil
		}
		return redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}),
	fx.Provide(NewLocker),
)
