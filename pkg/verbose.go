package merklebuild

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var globalVerboseLevel int
var debugFlags map[string]bool

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	l.SetLevel(logrus.WarnLevel)
	return l
}

// Logger returns the package logger
func Logger() *logrus.Logger {
	return logger
}

// SetLogOutput redirects all package logging to w
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetVerboseLevel sets the global verbose level
// (0=quiet, 1=basic, 2=detailed, 3=trace)
func SetVerboseLevel(level int) {
	globalVerboseLevel = level
	switch {
	case level <= 0:
		logger.SetLevel(logrus.WarnLevel)
	case level == 1:
		logger.SetLevel(logrus.InfoLevel)
	case level == 2:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.TraceLevel)
	}
}

// GetVerboseLevel returns the current verbose level
func GetVerboseLevel() int {
	return globalVerboseLevel
}

// VerboseEnter logs function entry at level 3+ and returns a defer function for exit logging
func VerboseEnter() func() {
	if globalVerboseLevel < 3 {
		return func() {}
	}

	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return func() {}
	}

	funcName := runtime.FuncForPC(pc).Name()
	if idx := strings.LastIndex(funcName, "."); idx != -1 {
		funcName = funcName[idx+1:]
	}

	logger.WithField("func", funcName).Trace("enter")
	return func() {
		logger.WithField("func", funcName).Trace("exit")
	}
}

// VerboseLog logs a message at the specified verbose level
func VerboseLog(level int, format string, args ...interface{}) {
	if globalVerboseLevel < level {
		return
	}
	format = strings.TrimSuffix(format, "\n")
	switch {
	case level <= 1:
		logger.Infof(format, args...)
	case level == 2:
		logger.Debugf(format, args...)
	default:
		logger.Tracef(format, args...)
	}
}

// DebugLog logs at debug level when the given debug flag is enabled,
// independent of the verbose level
func DebugLog(flag string, format string, args ...interface{}) {
	if !IsDebugEnabled(flag) {
		return
	}
	entry := logger.WithField("debug", strings.ToLower(flag))
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		// Debug flags are explicit opt-in; emit them even when quiet.
		entry.Warnf(format, args...)
		return
	}
	entry.Debugf(format, args...)
}

// SetDebugFlags sets the debug flags from a comma-separated string
// Supports both simple flags ("cache,walk") and key:value format ("cache:true,walk:false")
func SetDebugFlags(flagsStr string) {
	debugFlags = make(map[string]bool)
	if flagsStr == "" {
		return
	}

	for _, flag := range strings.Split(flagsStr, ",") {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}

		parts := strings.SplitN(flag, ":", 2)
		flagName := strings.ToLower(parts[0])
		flagValue := true

		if len(parts) > 1 {
			switch strings.ToLower(parts[1]) {
			case "false", "0", "no", "off":
				flagValue = false
			}
		}

		debugFlags[flagName] = flagValue
	}
}

// IsDebugEnabled returns true if the specified debug flag is enabled
func IsDebugEnabled(flag string) bool {
	if debugFlags == nil {
		return false
	}
	return debugFlags[strings.ToLower(flag)]
}
