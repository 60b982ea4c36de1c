// Package logger builds the zap logger of the service.
package logger

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vadiminshakov/balancecache/config"
)

const (
	logFileName   = "balancecache.log"
	maxSizeMB     = 100
	maxBackups    = 10
	maxAgeDays    = 30
	formatJSON    = "json"
	formatConsole = "console"
)

// New builds a logger writing to stdout and, when LogDir is set, to a rotated file.
func New(conf config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if conf.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(conf.Level))); err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", conf.Level)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(conf.Format) {
	case "", formatConsole:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case formatJSON:
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, errors.Errorf("unsupported log format %q", conf.Format)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if conf.LogDir != "" {
		if err := os.MkdirAll(conf.LogDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create log dir")
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(conf.LogDir, logFileName),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   conf.Compress,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller()), nil
}
