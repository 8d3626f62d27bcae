package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"golang.org/x/xerrors"
)

// Logger is the process-wide sugared logger. It is a no-op until InitLogger
// is called so packages can log from tests without setup.
var Logger = zap.NewNop().Sugar()

type Option struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	File   string // optional rotating log file

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func InitLogger(opt Option) error {
	level := zap.NewAtomicLevel()
	if opt.Level != "" {
		if err := level.UnmarshalText([]byte(opt.Level)); err != nil {
			return xerrors.Errorf("invalid log level %q: %w", opt.Level, err)
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if opt.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)}
	if opt.File != "" {
		// file output is always JSON
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.File,
			MaxSize:    opt.MaxSizeMB,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAgeDays,
			Compress:   opt.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
	Logger = logger.Sugar()
	return nil
}

// With returns a child logger carrying a component name, e.g. log.With("nvd").
func With(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

func Sync() {
	_ = Logger.Sync()
}
