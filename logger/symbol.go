package logger

import (
	"go.uber.org/zap"
)

// Component symbols used to tag log lines by subsystem.
// These are structured fields, not message text, so logs stay queryable
// by component.
//
//	logger.SchedulerInfow("reservation due", "reservation_id", id)
const (
	SymRQ          = "→" // Request Queuer: outbound HTTP fetches
	SymPageGetter  = "▤" // Page Getter: cache lookups and content fetches
	SymScheduler   = "◷" // Scheduler: heap admission and firing
	SymWorker      = "⚙" // Worker: reservation invocation
	SymInterface   = "⇄" // Interface: inbound HTTP reservation requests
)

// RQInfow logs an info message tagged with the Request Queuer symbol.
func RQInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymRQ}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// RQDebugw logs a debug message tagged with the Request Queuer symbol.
func RQDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymRQ}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// PageGetterInfow logs an info message tagged with the Page Getter symbol.
func PageGetterInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymPageGetter}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// PageGetterDebugw logs a debug message tagged with the Page Getter symbol.
func PageGetterDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymPageGetter}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// SchedulerInfow logs an info message tagged with the Scheduler symbol.
func SchedulerInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymScheduler}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// SchedulerWarnw logs a warning message tagged with the Scheduler symbol.
func SchedulerWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymScheduler}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}

// WorkerInfow logs an info message tagged with the Worker symbol.
func WorkerInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymWorker}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// WorkerErrorw logs an error message tagged with the Worker symbol.
func WorkerErrorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymWorker}, keysAndValues...)
		Logger.Errorw(msg, fields...)
	}
}

// InterfaceInfow logs an info message tagged with the Interface symbol.
func InterfaceInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymInterface}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// WithSymbol returns a logger with the given symbol attached as a field.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}

// SymbolInfow logs with an arbitrary symbol, for call sites that pick their
// component dynamically.
func SymbolInfow(symbol, msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, symbol}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}
