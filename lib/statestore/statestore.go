// Package statestore persists the handles (server-assigned ids) that independently invoked tasks hand over to each other.
package statestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
)

const (
	KeyPrimaryPatientID = "primary_patient_id"
	KeyObservationID    = "observation_id"
	KeyProcedureID      = "procedure_id"
)

const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Store is a key-value store for handles.
// Get returns an error wrapping fhirapi.ErrNotFound if the key was never written.
type Store interface {
	Put(ctx context.Context, key string, value string) error
	Get(ctx context.Context, key string) (string, error)
	Close() error
}

type Config struct {
	Backend string      `koanf:"backend"`
	Redis   RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr   string `koanf:"addr"`
	Prefix string `koanf:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendFile,
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "ehrbridge:",
		},
	}
}

// New creates the store for the configured backend. The file backend keeps handles in dataDir.
func New(config Config, dataDir string) (Store, error) {
	switch strings.ToLower(config.Backend) {
	case "", BackendFile:
		return NewFileStore(dataDir)
	case BackendRedis:
		return NewRedisStore(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", config.Backend)
	}
}

func notFound(key string) error {
	return fmt.Errorf("handle %s: %w", key, fhirapi.ErrNotFound)
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("invalid handle key: %q", key)
	}
	return nil
}
