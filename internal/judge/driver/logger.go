package driver

import "go.uber.org/zap"

// Field mirrors pkg/utils/logger's use of zap.Field, so that package's
// package-level Info/Warn/Error functions have the Logger method shape;
// driveradapter.PackageLogger is the thin adapter that forwards to them.
type Field = zap.Field
