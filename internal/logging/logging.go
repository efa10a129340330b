// Package logging holds the process-wide zap logger and field helpers used to log function calls. This is in an
// independent package to avoid dependency cycles.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tetratelabs/wazi/api"
)

var (
	mux    sync.RWMutex
	logger = zap.NewNop()
)

// Logger returns the shared logger. It is a no-op logger until SetLogger is called.
func Logger() *zap.Logger {
	mux.RLock()
	defer mux.RUnlock()
	return logger
}

// SetLogger replaces the shared logger. A nil logger restores the no-op default.
func SetLogger(l *zap.Logger) {
	mux.Lock()
	defer mux.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Values returns a field rendering raw stack values with their types, such as "i32(1),f64(0.5)".
func Values(key string, types []api.ValueType, vals []uint64) zap.Field {
	return zap.Stringer(key, valuesStringer{types: types, vals: vals})
}

type valuesStringer struct {
	types []api.ValueType
	vals  []uint64
}

// String implements fmt.Stringer
func (v valuesStringer) String() string {
	var sb strings.Builder
	for i, raw := range v.vals {
		if i > 0 {
			sb.WriteByte(',')
		}
		if i < len(v.types) {
			sb.WriteString(api.ValueFromRaw(v.types[i], raw).String())
		} else {
			sb.WriteString(api.ValueFromRaw(api.ValueTypeI64, raw).String())
		}
	}
	return sb.String()
}

// Module returns the conventional field naming the module a log entry is about.
func Module(name string) zap.Field {
	return zap.String("module", name)
}

// Function returns the conventional field naming the function a log entry is about.
func Function(name string) zap.Field {
	return zap.String("function", name)
}
