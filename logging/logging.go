// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"

	"grpcbridge/config"

	"go.uber.org/zap"
)

// New returns a production logger (JSON) or, in development mode, a console
// logger with caller and stack traces on warnings.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	// stdout belongs to the bridge frames
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
