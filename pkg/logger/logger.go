package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Init builds the process logger. Production gets JSON output at info level,
// anything else a development console logger.
func Init(env string) error {
	var (
		l   *zap.Logger
		err error
	)
	if env == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set replaces the process logger. Tests use it with zaptest or zap.NewNop.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func S() *zap.SugaredLogger {
	return L().Sugar()
}

// SW returns a sugared logger carrying the given key/value pairs.
func SW(kv ...interface{}) *zap.SugaredLogger {
	return S().With(kv...)
}

func Sync() {
	_ = L().Sync()
}
