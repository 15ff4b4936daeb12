package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is the log-level taxonomy named in the configuration grammar
// (spec §6.1: error_log <path> <level>). It is distinct from logrus.Level
// because the configuration file's vocabulary is richer than logrus's.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelVerbose
	LevelExhaustive
)

// ParseLevel matches a configuration-file level token. Unknown tokens fall
// back to LevelInfo, the same tolerance the configuration loader applies to
// every other defaulted directive.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exhaustive":
		return LevelExhaustive
	case "verbose":
		return LevelVerbose
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "critical":
		return LevelCritical
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelExhaustive:
		return "exhaustive"
	case LevelVerbose:
		return "verbose"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	}
	return "info"
}

// logrusLevel maps the configuration vocabulary onto logrus's five levels.
// exhaustive and verbose both sink to logrus' Debug/Trace pair since logrus
// has no six-way split. Critical sinks to ErrorLevel, not FatalLevel: log()
// always emits critical-tagged entries via entry.Error (Fatal/Panic would
// os.Exit inside logrus itself), so filtering at FatalLevel would silently
// drop them.
func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelExhaustive:
		return logrus.TraceLevel
	case LevelVerbose, LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError, LevelCritical:
		return logrus.ErrorLevel
	}
	return logrus.InfoLevel
}
