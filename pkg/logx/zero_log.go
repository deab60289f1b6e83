package logx

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/marcodd23/go-micro-dao/pkg/configx"
	"github.com/rs/zerolog"
)

type ZeroLogWrapper struct {
	zeroLog            *zerolog.Logger
	isLocalEnvironment bool
}

// SetupLogger sets up the process Logger writing to stdout.
func SetupLogger(config configx.Config) Logger {
	return SetupLoggerWithWriter(config, os.Stdout)
}

// SetupLoggerWithWriter sets up the process Logger writing to out.
// Local environments get a human readable console writer, DEV/STAGE/PROD get JSON.
func SetupLoggerWithWriter(config configx.Config, out io.Writer) Logger {
	logLevel := zerolog.InfoLevel
	if lc := config.GetLoggingConfig(); lc != nil {
		switch strings.ToLower(lc.Level) {
		case "debug":
			logLevel = zerolog.DebugLevel
		case "info":
			logLevel = zerolog.InfoLevel
		case "warn":
			logLevel = zerolog.WarnLevel
		case "error":
			logLevel = zerolog.ErrorLevel
		}
	}

	var zLog zerolog.Logger

	isLocalEnvironment := config.IsLocalEnvironment()
	if isLocalEnvironment {
		zLog = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true})
	} else {
		zLog = zerolog.New(out)
	}

	zLog = zLog.Level(logLevel).With().
		Timestamp().
		Str("service", config.GetServiceName()).
		Interface("serviceContext", ServiceContext{Environment: config.GetEnvironment(), Version: config.GetVersion()}).
		Logger()

	logger = &ZeroLogWrapper{
		zeroLog:            &zLog,
		isLocalEnvironment: isLocalEnvironment,
	}

	return logger
}

func (lm *ZeroLogWrapper) logWithContext(ctx context.Context, level zerolog.Level, errs []error, msg string) {
	logEvent := lm.zeroLog.WithLevel(level)

	switch level {
	case zerolog.DebugLevel:
		logEvent = logEvent.Str("severity", "DEBUG")
	case zerolog.InfoLevel:
		logEvent = logEvent.Str("severity", "INFO")
	case zerolog.WarnLevel:
		logEvent = logEvent.Str("severity", "WARNING")
	case zerolog.ErrorLevel:
		logEvent = logEvent.Str("severity", "ERROR")
	case zerolog.FatalLevel, zerolog.PanicLevel:
		logEvent = logEvent.Str("severity", "CRITICAL")
	}

	if id := CorrelationID(ctx); id != "" {
		logEvent = logEvent.Str("correlation_id", id)
	}

	for _, err := range errs {
		logEvent = logEvent.Err(err)
	}

	logEvent.Msg(msg)
}

func (lm *ZeroLogWrapper) LogInfo(ctx context.Context, msg string) {
	lm.logWithContext(ctx, zerolog.InfoLevel, nil, msg)
}

func (lm *ZeroLogWrapper) LogDebug(ctx context.Context, msg string) {
	lm.logWithContext(ctx, zerolog.DebugLevel, nil, msg)
}

func (lm *ZeroLogWrapper) LogWarning(ctx context.Context, msg string, errs ...error) {
	lm.logWithContext(ctx, zerolog.WarnLevel, errs, msg)
}

func (lm *ZeroLogWrapper) LogError(ctx context.Context, msg string, errs ...error) {
	lm.logWithContext(ctx, zerolog.ErrorLevel, errs, msg)
}

func (lm *ZeroLogWrapper) LogPanic(ctx context.Context, msg string, errs ...error) {
	lm.logWithContext(ctx, zerolog.PanicLevel, errs, msg)
	panic(msg)
}

func (lm *ZeroLogWrapper) LogFatal(ctx context.Context, msg string, errs ...error) {
	lm.logWithContext(ctx, zerolog.FatalLevel, errs, msg)
	os.Exit(1)
}

// GetLogger - returns the underlying logger.
func (lm *ZeroLogWrapper) GetLogger() interface{} {
	return lm.zeroLog
}
