// Package config loads typed configuration structs from environment variables.
//
// Fields are described with caarlos0/env tags. A .env file in the working
// directory is read once, before the first load, if it exists.
//
//	type Config struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once

	cacheMu sync.Mutex
	cache   = map[reflect.Type]any{}
)

func loadDotenv() {
	dotenvOnce.Do(func() {
		// A missing .env file is fine.
		_ = godotenv.Load()
	})
}

// Parse fills v from the environment on every call.
func Parse[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	loadDotenv()
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// Load fills v from the environment once per type T and returns a copy of the
// cached value on later calls. Failed loads are not cached.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	key := reflect.TypeFor[T]()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	var fresh T
	if err := Parse(&fresh); err != nil {
		return err
	}
	cache[key] = fresh
	*v = fresh
	return nil
}

// MustLoad is Load that panics on error. Use it in main for required config.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
