// Package pslog provides the structured per-package logger used
// throughout the core, implemented against dragonboat's ILogger
// interface the same way rpc/common/logger.go does for dKV.
package pslog

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// psLogger implements logger.ILogger with "LEVEL | package | message" output.
type psLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *psLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *psLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *psLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *psLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *psLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *psLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

func (l *psLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-12s | %s", levelStr, l.name, message)
}

// CreateLogger is a logger.Factory.
func CreateLogger(pkgName string) logger.ILogger {
	stdLogger := log.New(os.Stdout, "", log.Ldate|log.Ltime)
	return &psLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// ParseLevel converts a string level (debug/info/warn/error) to a LogLevel.
func ParseLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info", "":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}

// packages whose named logger Init sets to the requested level.
var packages = []string{
	"van", "postoffice", "customer", "resender", "kv.worker", "kv.server", "simpleapp", "transport", "wire",
}

// Init installs the factory and sets every named package logger to level.
func Init(level string) {
	logger.SetLoggerFactory(CreateLogger)
	lvl := ParseLevel(level)
	for _, p := range packages {
		logger.GetLogger(p).SetLevel(lvl)
	}
}

// Get returns the named logger, exactly as logger.GetLogger would.
func Get(name string) logger.ILogger {
	return logger.GetLogger(name)
}
