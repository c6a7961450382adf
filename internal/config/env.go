// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
)

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "secret") || strings.Contains(k, "token")
}

// parseEnv looks up key and converts it with parse. Empty or invalid values
// fall back to defaultValue; the choice is logged at debug level.
func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Interface("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	out, err := parse(v)
	if err != nil {
		logEnv(logger.Warn(), key, v).Interface("default", defaultValue).Msg("invalid environment variable, using default")
		return defaultValue
	}
	logEnv(logger.Debug(), key, v).Str("source", "environment").Msg("using environment variable")
	return out
}

func logEnv(ev *zerolog.Event, key, value string) *zerolog.Event {
	ev = ev.Str("key", key)
	if isSensitive(key) {
		return ev.Bool("sensitive", true)
	}
	return ev.Str("value", value)
}

// ParseString reads a string environment variable.
func ParseString(key, defaultValue string) string {
	return parseEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer environment variable.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

// ParseDuration reads a Go duration such as "10s".
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}
