package bus

import (
	"fmt"

	"github.com/sandboxlabs/execcore/internal/config"
)

// New builds the Bus selected by cfg.Backend.Kind. The job store and the
// bus share this selection: a deployment either runs as a single instance
// with both adapters local, or scales horizontally with both backed by the
// same Redis-compatible service.
func New(cfg config.Config) (Bus, error) {
	switch cfg.Backend.Kind {
	case "", "local":
		return NewLocalPubSub(), nil
	case "redis":
		return NewRedisPubSub(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("bus: unknown backend %q", cfg.Backend.Kind)
	}
}
