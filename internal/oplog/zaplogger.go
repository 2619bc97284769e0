// Package oplog adapts structured logging to the ledger's operation
// callback seam.
package oplog

import (
	"context"

	"github.com/creativeai-labs/creditledger/pkg/ledger"
	"go.uber.org/zap"
)

// ZapLogger emits one structured log line per ledger operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps a zap logger as a ledger.OperationLogger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

func (zapLogger *ZapLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("status", entry.Status),
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if entry.Kind != "" {
		fields = append(fields, zap.String("kind", entry.Kind.String()))
	}
	if !entry.ReferenceID.IsZero() {
		fields = append(fields, zap.String("reference_id", entry.ReferenceID.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	zapLogger.logger.Info("ledger operation", fields...)
}
