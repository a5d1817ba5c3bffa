package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/tenantauth/internal/cache"
)

// RedisClientConfig maps cache.redis onto the cache package options.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	r := c.Redis
	return cache.RedisConfig{
		Address:  strings.TrimSpace(r.Address),
		Username: strings.TrimSpace(r.Username),
		Password: r.Password,
		DB:       r.DB,
		TLS:      r.TLS,
		Timeout:  r.Timeout,
		PoolSize: r.PoolSize,
	}
}

func (c CacheConfig) validate() error {
	if !c.Redis.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Redis.Address) == "" {
		return fmt.Errorf("config: cache.redis.address is required when redis is enabled")
	}
	if c.Redis.DB < 0 || c.Redis.PoolSize < 0 {
		return fmt.Errorf("config: cache.redis db and pool_size must not be negative")
	}
	return nil
}
