//nolint:gochecknoglobals
package logx

import (
	"context"
	"log"
)

type ServiceContext struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

// Logger - logger interface.
type Logger interface {
	// LogInfo logs a message at Info level.
	LogInfo(ctx context.Context, msg string)
	// LogDebug logs a message at Debug level.
	LogDebug(ctx context.Context, msg string)
	// LogWarning logs a message at Warning level.
	LogWarning(ctx context.Context, msg string, errs ...error)
	// LogError logs a message at Error level.
	LogError(ctx context.Context, msg string, errs ...error)
	// LogPanic logs a message at Panic level then panics.
	LogPanic(ctx context.Context, msg string, errs ...error)
	// LogFatal logs a message at Fatal Level.
	// The logger then calls os.Exit(1), even if logging at FatalLevel is
	// disabled.
	LogFatal(ctx context.Context, msg string, errs ...error)

	GetLogger() interface{}
}

var logger Logger

// correlationKey - context key of the unit of work correlation id.
type correlationKey struct{}

// WithCorrelationID returns a copy of ctx carrying id; loggers attach it to every entry.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(correlationKey{}).(string)

	return id
}

// DefaultLogger - Logger implementation backed by the standard log package,
// used until SetupLogger is called.
type DefaultLogger struct{}

// GetLogger - returns an instance of the Logger.
// If called before SetupLogger the DefaultLogger will be returned.
func GetLogger() Logger {
	if logger == nil {
		return &DefaultLogger{}
	}

	return logger
}

// SetLogger - replace the process logger (nil restores the DefaultLogger).
func SetLogger(l Logger) {
	logger = l
}

func (nl *DefaultLogger) LogInfo(ctx context.Context, msg string) {
	log.Println("INFO " + withCorrelation(ctx, msg))
}

func (nl *DefaultLogger) LogDebug(ctx context.Context, msg string) {
	log.Println("DEBUG " + withCorrelation(ctx, msg))
}

func (nl *DefaultLogger) LogWarning(ctx context.Context, msg string, errs ...error) {
	log.Println("WARN "+withCorrelation(ctx, msg), errs)
}

func (nl *DefaultLogger) LogError(ctx context.Context, msg string, errs ...error) {
	log.Println("ERROR "+withCorrelation(ctx, msg), errs)
}

func (nl *DefaultLogger) LogPanic(ctx context.Context, msg string, errs ...error) {
	log.Panicln("PANIC "+withCorrelation(ctx, msg), errs)
}

func (nl *DefaultLogger) LogFatal(ctx context.Context, msg string, errs ...error) {
	log.Fatalln("FATAL "+withCorrelation(ctx, msg), errs)
}

func (nl *DefaultLogger) GetLogger() interface{} { return nil }

func withCorrelation(ctx context.Context, msg string) string {
	if id := CorrelationID(ctx); id != "" {
		return "[" + id + "] " + msg
	}

	return msg
}
