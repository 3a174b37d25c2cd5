package plugins

import (
	"reflect"
	"sort"
	"time"

	"github.com/spf13/cast"
)

// Config is the stack-wide configuration injected into every plugin
// constructor. Keys are conventionally namespaced by kind ("perf.alpha").
type Config map[string]any

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// String returns key as a string, or def when unset.
func (c Config) String(key, def string) string {
	v, ok := c[key]
	if !ok {
		return def
	}
	return cast.ToString(v)
}

// Int returns key as an int, or def when unset or not convertible.
func (c Config) Int(key string, def int) int {
	v, ok := c[key]
	if !ok {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

// Float returns key as a float64, or def when unset or not convertible.
func (c Config) Float(key string, def float64) float64 {
	v, ok := c[key]
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// Bool returns key as a bool, or def when unset or not convertible.
func (c Config) Bool(key string, def bool) bool {
	v, ok := c[key]
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns key as a time.Duration, or def when unset or not
// convertible.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	v, ok := c[key]
	if !ok {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}

// Merge returns a new config with overrides applied on top of c.
func (c Config) Merge(overrides Config) Config {
	out := make(Config, len(c)+len(overrides))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Equal reports whether both configs hold the same keys and values.
func (c Config) Equal(other Config) bool {
	if len(c) != len(other) {
		return false
	}
	for k, v := range c {
		ov, ok := other[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// Keys returns the configured keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
