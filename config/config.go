// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config merges configuration from multiple sources and decodes
// the result into plain structs.
//
// Sources are applied in order and later sources override earlier ones,
// so the usual layering is: defaults, then a YAML file, then environment
// variables, then command line values.
//
//	m, err := config.Read(
//	    config.Map{"port": 8080},
//	    config.FromYaml(f),
//	    config.FromEnv("FILESERVER_"),
//	)
//
// Struct fields are matched using the `config` tag.
package config

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/z5labs/fileserver/config/key"

	"github.com/go-viper/mapstructure/v2"
)

// Store represents a general key value structure.
type Store interface {
	Set(key.Keyer, any) error
}

// Source defines valid config sources as those who can
// serialize themselves into a key value like structure.
type Source interface {
	Apply(Store) error
}

// SourceFunc is a functional implementation of the Source interface.
type SourceFunc func(Store) error

// Apply implements the Source interface.
func (f SourceFunc) Apply(store Store) error {
	return f(store)
}

// Manager holds the merged result of all sources.
type Manager struct {
	tree tree
}

// Read applies all sources, in order, to a single store.
// Subsequent sources override previous sources.
func Read(srcs ...Source) (*Manager, error) {
	t := make(tree)
	for _, src := range srcs {
		if src == nil {
			continue
		}
		err := src.Apply(t)
		if err != nil {
			return nil, err
		}
	}
	return &Manager{tree: t}, nil
}

// ErrEmptyKey is returned when a source sets a value without naming a key.
var ErrEmptyKey = errors.New("config: empty key")

// KeyConflictError is returned when a source nests keys under a key an
// earlier source set to a plain value. For example, "logging: debug" in a
// YAML file followed by FILESERVER_LOGGING__LEVEL in the environment.
type KeyConflictError struct {
	Key   string
	Value any
}

// Error implements the [builtin.error] interface.
func (e KeyConflictError) Error() string {
	return fmt.Sprintf("config key %q is set to %v and cannot also hold nested keys", e.Key, e.Value)
}

// tree is what sources write into. Nested keys become nested maps so the
// result decodes straight into structs.
type tree map[string]any

// Set implements the [Store] interface. Any [key.Keyer] other than a
// [key.Chain] is treated as a dotted path, so key.Name("logging.level")
// and key.Chain{"logging", "level"} set the same value.
func (t tree) Set(k key.Keyer, v any) error {
	chain, ok := k.(key.Chain)
	if !ok {
		chain = key.Path(k.Key())
	}
	if len(chain) == 0 {
		return ErrEmptyKey
	}

	node := map[string]any(t)
	last := len(chain) - 1
	for i, part := range chain[:last] {
		child, exists := node[part.Key()]
		if !exists {
			next := make(map[string]any)
			node[part.Key()] = next
			node = next
			continue
		}

		next, isMap := child.(map[string]any)
		if !isMap {
			return KeyConflictError{Key: chain[:i+1].Key(), Value: child}
		}
		node = next
	}
	node[chain[last].Key()] = v
	return nil
}

// Unmarshal decodes the merged config into v, which must be a pointer.
//
// Strings are weakly coerced so environment variables can populate
// numeric and boolean fields. [time.Duration] fields accept either a
// duration string ("5s") or a plain number of seconds.
func (m *Manager) Unmarshal(v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		Result:           v,
		WeaklyTypedInput: true,
		DecodeHook: composeDecodeHooks(
			timeDurationHookFunc(),
			textUnmarshalerHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(m.tree))
}

var errInvalidDecodeCondition = errors.New("invalid decode condition")

// TypeCoercionError occurs when attempting to unmarshal a config
// value to a struct field whose type does not match the config
// value type, up to, coercion.
type TypeCoercionError struct {
	from  reflect.Value
	to    reflect.Value
	Cause error
}

// Error implements the error interface.
func (e TypeCoercionError) Error() string {
	return fmt.Sprintf("failed to coerce value from %s to %s: %s", e.from.Type(), e.to.Type(), e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e TypeCoercionError) Unwrap() error {
	return e.Cause
}

func composeDecodeHooks(hs ...mapstructure.DecodeHookFunc) mapstructure.DecodeHookFuncValue {
	return func(f, t reflect.Value) (any, error) {
		for _, h := range hs {
			v, err := mapstructure.DecodeHookExec(h, f, t)
			if err == nil {
				return v, nil
			}
			if errors.Is(err, errInvalidDecodeCondition) {
				continue
			}
			return nil, TypeCoercionError{
				from:  f,
				to:    t,
				Cause: err,
			}
		}
		return f.Interface(), nil
	}
}

func textUnmarshalerHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t.Kind() == reflect.Pointer {
			return nil, errInvalidDecodeCondition
		}
		ptr := reflect.New(t)
		u, ok := ptr.Interface().(encoding.TextUnmarshaler)
		if !ok {
			return nil, errInvalidDecodeCondition
		}
		err := u.UnmarshalText([]byte(data.(string)))
		if err != nil {
			return nil, err
		}
		return ptr.Elem().Interface(), nil
	}
}

func timeDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return nil, errInvalidDecodeCondition
		}
		if f == t {
			return data, nil
		}

		switch f.Kind() {
		case reflect.String:
			return time.ParseDuration(data.(string))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		default:
			return nil, errInvalidDecodeCondition
		}
	}
}
