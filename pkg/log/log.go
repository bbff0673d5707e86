// Copyright 2025 Cloudo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Conf defines logger configuration.
type Conf struct {
	Output     string `mapstructure:"output"` // stdout | file
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	Level      string `mapstructure:"level"`
	KeepDays   int    `mapstructure:"keepDays"`
	RotateSize int    `mapstructure:"rotateSize"` // MB
	RotateNum  int    `mapstructure:"rotateNum"`
}

// SetDefaults fills unset fields with defaults.
func (c *Conf) SetDefaults() {
	if c.Output == "" {
		c.Output = "stdout"
	}
	if c.Level == "" {
		c.Level = "INFO"
	}
	if c.Output == "file" {
		if c.Filename == "" {
			c.Filename = "cloudo.log"
		}
		if c.Path == "" {
			c.Path = "./logs"
		}
		if c.RotateSize <= 0 {
			c.RotateSize = 100
		}
		if c.RotateNum <= 0 {
			c.RotateNum = 10
		}
		if c.KeepDays <= 0 {
			c.KeepDays = 7
		}
	}
}

var (
	mu    sync.RWMutex
	sugar = zap.NewNop().Sugar()
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init builds the global logger from config. Safe to call more than once;
// the last call wins.
func Init(conf *Conf) error {
	if conf == nil {
		conf = &Conf{}
	}
	conf.SetDefaults()

	lvl, err := parseLevel(conf.Level)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"

	var sink zapcore.WriteSyncer
	switch conf.Output {
	case "file":
		if err := os.MkdirAll(conf.Path, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(conf.Path, conf.Filename),
			MaxSize:    conf.RotateSize,
			MaxBackups: conf.RotateNum,
			MaxAge:     conf.KeepDays,
			Compress:   true,
		})
	default:
		sink = zapcore.Lock(os.Stdout)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	sugar = logger.Sugar()
	mu.Unlock()
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %q", s)
	}
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Sync flushes buffered log entries.
func Sync() {
	_ = get().Sync()
}

func Debug(args ...any) { get().Debug(args...) }

func Debugw(msg string, keysAndValues ...any) { get().Debugw(msg, keysAndValues...) }

func Info(args ...any) { get().Info(args...) }

func Infow(msg string, keysAndValues ...any) { get().Infow(msg, keysAndValues...) }

func Warn(args ...any) { get().Warn(args...) }

func Warnw(msg string, keysAndValues ...any) { get().Warnw(msg, keysAndValues...) }

func Error(args ...any) { get().Error(args...) }

func Errorw(msg string, keysAndValues ...any) { get().Errorw(msg, keysAndValues...) }
