// Copyright 2025 Sonic Labs
// This file is part of Aida Testing Infrastructure for Sonic
//
// Aida is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Aida is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Aida. If not, see <http://www.gnu.org/licenses/>.

package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogFormat = "%{color}%{time:15:04:05.000} %{module} %{level:.4s}%{color:reset} %{message}"
	fileLogFormat    = "%{time:2006-01-02 15:04:05.000} %{module} %{level:.4s} %{message}"
	defaultLogLevel  = logging.INFO
)

// LogLevelFlag defines the verbosity of all loggers created by NewLogger.
var LogLevelFlag = cli.StringFlag{
	Name:    "log-level",
	Aliases: []string{"l"},
	Usage:   "level of the logging of the app action (\"critical\", \"error\", \"warning\", \"notice\", \"info\", \"debug\"; default: INFO)",
	Value:   "INFO",
}

// LogFileFlag mirrors all log output into a rotated file.
var LogFileFlag = cli.PathFlag{
	Name:  "log-file",
	Usage: "additionally write log output to the given file (rotated at 100MB)",
}

// Logger is the subset of go-logging's logger used throughout the tool.
type Logger interface {
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Critical(args ...interface{})
	Criticalf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Notice(args ...interface{})
	Noticef(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	IsEnabledFor(level logging.Level) bool
}

var (
	fileMu     sync.Mutex
	fileWriter io.WriteCloser
)

// NewLogger creates a logger for the given module. Unknown levels fall back to INFO.
func NewLogger(level string, module string) Logger {
	log := logging.MustGetLogger(module)

	console := logging.NewBackendFormatter(
		logging.NewLogBackend(os.Stdout, "", 0),
		logging.MustStringFormatter(defaultLogFormat),
	)
	backends := []logging.Backend{console}

	fileMu.Lock()
	if fileWriter != nil {
		backends = append(backends, logging.NewBackendFormatter(
			logging.NewLogBackend(fileWriter, "", 0),
			logging.MustStringFormatter(fileLogFormat),
		))
	}
	fileMu.Unlock()

	leveled := logging.MultiLogger(backends...)
	logLevel, err := logging.LogLevel(level)
	if err != nil {
		logLevel = defaultLogLevel
	}
	leveled.SetLevel(logLevel, module)
	log.SetBackend(leveled)
	// Logger.IsEnabledFor consults the default backend, not the one set above.
	logging.SetLevel(logLevel, module)
	return log
}

// AttachFile makes every logger created afterwards also write into path.
// An empty path detaches the current file. The returned closer releases the file.
func AttachFile(path string) io.Closer {
	fileMu.Lock()
	defer fileMu.Unlock()
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
	if path == "" {
		return io.NopCloser(nil)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
	fileWriter = w
	return w
}

// ParseTime splits a duration into hours, minutes and seconds.
func ParseTime(elapsed time.Duration) (uint32, uint32, uint32) {
	var (
		hours, minutes, seconds uint32
	)
	seconds = uint32(elapsed.Round(time.Second).Seconds())
	if seconds > 60 {
		minutes = seconds / 60
		seconds %= 60
	}
	if minutes > 60 {
		hours = minutes / 60
		minutes %= 60
	}
	return hours, minutes, seconds
}
