// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level, format and sinks of the logger.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the human readable console encoder.
	Development bool `yaml:"development"`
	// File, when set, receives a copy of the log and is rotated.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig logs info and above to stderr.
var DefaultConfig = Config{
	Level:      "info",
	MaxSizeMB:  100,
	MaxBackups: 10,
	MaxAgeDays: 30,
}

// New builds a logger writing to stderr and, if configured, to a rotated file.
// The returned closer flushes and closes the file.
func New(config Config) (*zap.SugaredLogger, io.Closer, error) {
	return newLogger(config, os.Stderr)
}

func newLogger(config Config, console zapcore.WriteSyncer) (*zap.SugaredLogger, io.Closer, error) {
	level := zap.NewAtomicLevel()
	if config.Level != "" {
		if err := level.UnmarshalText([]byte(config.Level)); err != nil {
			return nil, nil, errors.Wrapf(err, "invalid log level %q", config.Level)
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(console), level)}
	var closer io.Closer = nopCloser{}
	if config.File != "" {
		file := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(file), level))
		closer = file
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger.Sugar(), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
