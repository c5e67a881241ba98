/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package xlog wires the broker core's structured logging. Every package
// gets its own named logger via LoggerModule so that log lines can be
// filtered by the component that emitted them without grepping messages.
package xlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is a module-scoped logger. It embeds *zap.Logger so callers write
// ordinary zap.Field calls (zap.Error, zap.String, ...).
type Log struct {
	*zap.Logger
	module string
}

// Options configures the process-wide logger constructed by Init.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Filename, when non-empty, routes output through lumberjack for
	// size-based rotation instead of stderr.
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Development enables human-readable console encoding instead of JSON.
	Development bool
}

var (
	mu   sync.RWMutex
	base *zap.Logger
)

func init() {
	base, _ = zap.NewProduction()
}

// Init replaces the base logger every LoggerModule call derives from. It is
// safe to call before any LoggerModule call; modules created earlier keep
// logging through the old base until they are re-created.
func Init(opts Options) error {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil && opts.Level != "" {
		return err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if opts.Development {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer
	if opts.Filename != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Filename,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	l := zap.New(core, zap.AddCaller())

	mu.Lock()
	base = l
	mu.Unlock()
	return nil
}

// LoggerModule returns a logger tagged with the given module name, e.g.
// "server", "session", "store".
func LoggerModule(module string) *Log {
	mu.RLock()
	b := base
	mu.RUnlock()
	return &Log{Logger: b.With(zap.String("module", module)), module: module}
}

// Module reports the name this logger was created with.
func (l *Log) Module() string {
	return l.module
}
