package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Переменные окружения логирования.
const (
	EnvLogFormat = "FLASHORDER_LOG_FORMAT"
	EnvLogLevel  = "FLASHORDER_LOG_LEVEL"
)

// SetupLogger настраивает стандартный logrus logger: text по умолчанию,
// json при FLASHORDER_LOG_FORMAT=json, уровень из FLASHORDER_LOG_LEVEL.
func SetupLogger(logger *log.Logger, lookup func(string) (string, bool)) []string {
	var warnings []string

	format, _ := lookup(EnvLogFormat)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		warnings = append(warnings, fmt.Sprintf("ignore %s=%q: unknown format", EnvLogFormat, format))
	}

	logger.SetLevel(log.InfoLevel)
	if raw, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ignore %s=%q: %v", EnvLogLevel, raw, err))
		} else {
			logger.SetLevel(level)
		}
	}
	return warnings
}
