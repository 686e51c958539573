package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// keys that may be absent from the file because they are omitempty
var optionalKeys = map[string]bool{
	"hyprland.runtime_dir":        true,
	"hyprland.instance_signature": true,
	"hyprland.wayland_display":    true,
	"allowed_origins":             true,
}

// Viper returns a viper instance reading the config file.
func (m *Manager) Viper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// GetValue returns one dotted key, e.g. "capture.workers".
func (m *Manager) GetValue(key string) (interface{}, error) {
	v, err := m.Viper()
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		if optionalKeys[key] {
			return "", nil
		}
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	return v.Get(key), nil
}

// SetValue parses value according to the key's current type, validates the
// whole config and saves it.
func (m *Manager) SetValue(key, value string) error {
	v, err := m.Viper()
	if err != nil {
		return err
	}

	var typed interface{} = value
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			// whole floats such as refresh_rate are written without a point
			if n, err := strconv.Atoi(value); err == nil {
				typed = n
			} else if f, ferr := strconv.ParseFloat(value, 64); ferr == nil {
				typed = f
			} else {
				return fmt.Errorf("invalid number for %s: %s", key, value)
			}
		case float64:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("invalid number for %s: %s", key, value)
			}
			typed = f
		case bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
			}
			typed = b
		case []interface{}:
			typed = splitList(value)
		case map[string]interface{}:
			return fmt.Errorf("%s is a section, set one of its keys", key)
		}
	} else if key == "allowed_origins" {
		typed = splitList(value)
	} else if !optionalKeys[key] {
		return fmt.Errorf("configuration key not found: %s", key)
	}
	v.Set(key, typed)

	cfg := Defaults()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("failed to apply %s: %w", key, err)
	}
	return m.Update(cfg)
}

// splitList parses a comma separated value; an empty value clears the list.
func splitList(value string) []string {
	out := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
