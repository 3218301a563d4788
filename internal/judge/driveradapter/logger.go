package driveradapter

import (
	"context"

	"fuzoj/internal/judge/driver"
	"fuzoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// PackageLogger adapts the pkg/utils/logger package-level functions to
// driver.Logger. It carries no state: every call goes straight to the
// process-wide logger initialised by logger.Init.
type PackageLogger struct{}

func (PackageLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	logger.Info(ctx, msg, fields...)
}

func (PackageLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	logger.Warn(ctx, msg, fields...)
}

func (PackageLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	logger.Error(ctx, msg, fields...)
}

var _ driver.Logger = PackageLogger{}
