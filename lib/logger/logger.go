package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Settings stores config for Logger
type Settings struct {
	Path       string `yaml:"path"`
	Name       string `yaml:"name"`
	Ext        string `yaml:"ext"`
	MaxSizeMB  int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
}

var sugar *zap.SugaredLogger

func init() {
	sugar = newLogger(nil).Sugar()
}

// Setup initializes the default logger with a rotating log file besides stdout
func Setup(settings *Settings) {
	sugar = newLogger(settings).Sugar()
}

func newLogger(settings *Settings) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapcore.DebugLevel),
	}
	if settings != nil {
		maxSize := settings.MaxSizeMB
		if maxSize == 0 {
			maxSize = 64
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(settings.Path, settings.Name+"."+settings.Ext),
			MaxSize:    maxSize,
			MaxBackups: settings.MaxBackups,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), zapcore.DebugLevel))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

// Debug logs debug message through the default logger
func Debug(v ...interface{}) {
	sugar.Debug(v...)
}

// Debugf logs debug message through the default logger
func Debugf(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

// Info logs message through the default logger
func Info(v ...interface{}) {
	sugar.Info(v...)
}

// Infof logs message through the default logger
func Infof(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

// Warn logs warning message through the default logger
func Warn(v ...interface{}) {
	sugar.Warn(v...)
}

// Warnf logs warning message through the default logger
func Warnf(format string, v ...interface{}) {
	sugar.Warnf(format, v...)
}

// Error logs error message through the default logger
func Error(v ...interface{}) {
	sugar.Error(v...)
}

// Errorf logs error message through the default logger
func Errorf(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

// Fatal prints error message then stop the program
func Fatal(v ...interface{}) {
	sugar.Fatal(v...)
}
