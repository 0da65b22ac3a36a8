package jobstore

import (
	"fmt"
	"time"

	"github.com/sandboxlabs/execcore/internal/config"
)

// New builds the Store selected by cfg.Backend.Kind.
func New(cfg config.Config) (Store, error) {
	jobTTL := time.Duration(cfg.Job.TTLSec) * time.Second
	tokenTTL := time.Duration(cfg.Job.TokenTTLSec) * time.Second

	switch cfg.Backend.Kind {
	case "", "local":
		return NewMemoryStore(jobTTL, tokenTTL), nil
	case "redis":
		return NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, jobTTL, tokenTTL)
	default:
		return nil, fmt.Errorf("jobstore: unknown backend %q", cfg.Backend.Kind)
	}
}
