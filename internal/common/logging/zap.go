package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapAdapter implements Logger on a zap core writing JSON lines to stdout.
type zapAdapter struct {
	logger *zap.Logger
}

func newZapAdapter(level LogLevel) *zapAdapter {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapLevel(level),
	)
	return &zapAdapter{logger: zap.New(core)}
}

func (z *zapAdapter) Debug(msg string, fields ...Field) {
	z.logger.Debug(msg, zapFields(fields)...)
}

func (z *zapAdapter) Info(msg string, fields ...Field) {
	z.logger.Info(msg, zapFields(fields)...)
}

func (z *zapAdapter) Warn(msg string, fields ...Field) {
	z.logger.Warn(msg, zapFields(fields)...)
}

func (z *zapAdapter) Error(msg string, err error, fields ...Field) {
	converted := zapFields(fields)
	if err != nil {
		converted = append(converted, zap.Error(err))
	}
	z.logger.Error(msg, converted...)
}

func (z *zapAdapter) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	return &zapAdapter{logger: z.logger.With(zapFields(fields)...)}
}

func (z *zapAdapter) sync() error {
	return z.logger.Sync()
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func zapFields(fields []Field) []zap.Field {
	converted := make([]zap.Field, len(fields))
	for i, f := range fields {
		converted[i] = zap.Any(f.Key, f.Value)
	}
	return converted
}
