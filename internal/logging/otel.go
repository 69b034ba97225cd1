package logging

import (
	"context"

	otellog "go.opentelemetry.io/otel/log"
	logglobal "go.opentelemetry.io/otel/log/global"
)

const defaultScope = "watchpaste"

// emitOTel mirrors an entry onto the globally registered OpenTelemetry
// logger provider. The default provider is a no-op.
func emitOTel(scope string, entry LogEntry) {
	logger := logglobal.Logger(scope)
	ctx := context.Background()
	severity := severityFor(entry.Level)
	if !logger.Enabled(ctx, otellog.EnabledParameters{Severity: severity}) {
		return
	}

	var record otellog.Record
	record.SetTimestamp(entry.Timestamp)
	record.SetObservedTimestamp(entry.Timestamp)
	record.SetSeverity(severity)
	record.SetSeverityText(string(entry.Level))
	record.SetBody(otellog.StringValue(entry.Message))
	for _, key := range sortedKeys(entry.Context) {
		record.AddAttributes(otellog.String(key, entry.Context[key]))
	}
	logger.Emit(ctx, record)
}

func severityFor(level Level) otellog.Severity {
	switch level {
	case LevelDebug:
		return otellog.SeverityDebug
	case LevelWarning:
		return otellog.SeverityWarn
	case LevelError:
		return otellog.SeverityError
	default:
		return otellog.SeverityInfo
	}
}
