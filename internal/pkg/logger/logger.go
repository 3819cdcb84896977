// internal/pkg/logger/logger.go

package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a sugared zap logger for the given environment. Production
// gets JSON output, everything else the development console encoder.
func New(env string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(env) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
