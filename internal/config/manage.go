package config

import (
	"fmt"
	"strconv"
	"time"
)

// KeyInfo is one row of `dynasty config show`.
type KeyInfo struct {
	Key       string
	EnvVar    string
	Value     string
	IsDefault bool
}

// ShowAll lists every settable key of cfg in declaration order. Secrets are
// left out.
func ShowAll(cfg Config) []KeyInfo {
	def := defaults()
	rows := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		v := fmt.Sprint(s.extract(cfg))
		rows = append(rows, KeyInfo{
			Key:       s.key,
			EnvVar:    s.env,
			Value:     v,
			IsDefault: v == fmt.Sprint(s.extract(def)),
		})
	}
	return rows
}

// SetKey stores value under key in the dynasty config file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookup(key)
	switch {
	case !ok:
		return fmt.Errorf("unknown config key: %q", key)
	case s.secret:
		return fmt.Errorf("%s is a secret; set %s in the environment instead", key, s.env)
	}

	switch s.typ {
	case kInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s wants an integer: %w", key, err)
		}
		return b.SetInt(key, n)
	case kDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s wants a duration such as 30s: %w", key, err)
		}
		return b.SetString(key, d.String())
	default:
		return b.SetString(key, value)
	}
}

func lookup(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ValidKeys names the keys SetKey accepts.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
