// Package logparse infers a severity for journal messages.
package logparse

import (
	"regexp"
	"strings"
)

// Severity levels, lowest first.
const (
	Trace = "TRACE"
	Debug = "DEBUG"
	Info  = "INFO"
	Warn  = "WARN"
	Error = "ERROR"
	Fatal = "FATAL"
)

var severityWord = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|NOTICE|WARN|WARNING|ERR|ERROR|FATAL|CRIT|CRITICAL|ALERT|EMERG|PANIC)\b`)

// Normalize maps level spellings (syslog names, abbreviations, any case) to
// one of the Severity constants. Unknown input is Info.
func Normalize(level string) string {
	s := strings.ToUpper(strings.TrimSpace(level))
	switch s {
	case "TRACE", "TRC":
		return Trace
	case "DEBUG", "DBG", "DEBU":
		return Debug
	case "INFO", "INF", "NOTICE", "INFORMATION":
		return Info
	case "WARN", "WARNING", "WRN":
		return Warn
	case "ERR", "ERROR", "ERRO":
		return Error
	case "FATAL", "CRIT", "CRITICAL", "ALERT", "EMERG", "PANIC":
		return Fatal
	}
	for prefix, sev := range map[string]string{"WARN": Warn, "ERRO": Error, "DEBU": Debug, "CRIT": Fatal, "FATA": Fatal} {
		if strings.HasPrefix(s, prefix) {
			return sev
		}
	}
	return Info
}

// FromText returns the first severity word found in message, or Info.
func FromText(message string) string {
	m := severityWord.FindStringSubmatch(message)
	if len(m) < 2 {
		return Info
	}
	return Normalize(m[1])
}

// Rank orders severities for threshold filtering; Trace is 0.
func Rank(severity string) int {
	switch severity {
	case Trace:
		return 0
	case Debug:
		return 1
	case Warn:
		return 3
	case Error:
		return 4
	case Fatal:
		return 5
	default:
		return 2
	}
}
