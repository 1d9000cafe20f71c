package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// GetEnvString returns the trimmed value of key, or defaultVal when unset.
func GetEnvString(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return defaultVal
}

// GetEnvBool parses 1/true/yes and 0/false/no.
func GetEnvBool(key string, defaultVal bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		log.Warn().Str("key", key).Str("value", val).Msg("Invalid boolean env var, using default")
		return defaultVal
	}
}

func GetEnvAsInt(key string, defaultVal int) int {
	strVal := GetEnvString(key, "")
	if strVal == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(strVal)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Invalid integer env var, using default")
		return defaultVal
	}
	return val
}

func GetEnvFloat(key string, defaultVal float64) float64 {
	strVal := GetEnvString(key, "")
	if strVal == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(strVal, 64)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Invalid float env var, using default")
		return defaultVal
	}
	return val
}

// GetEnvDuration accepts Go duration syntax ("5s", "250ms").
func GetEnvDuration(key string, defaultVal time.Duration) time.Duration {
	strVal := GetEnvString(key, "")
	if strVal == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(strVal)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Invalid duration env var, using default")
		return defaultVal
	}
	return val
}

// GetEnvAsStringArr splits a separated list, dropping empty items.
func GetEnvAsStringArr(key string, defaultVal []string, separator ...string) []string {
	strVal := GetEnvString(key, "")
	if strVal == "" {
		return defaultVal
	}
	sep := ","
	if len(separator) > 0 {
		sep = separator[0]
	}
	var out []string
	for _, item := range strings.Split(strVal, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
