// Package config provides settings file loading for the Nuclos client.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"
)

// ServerSettings describes how to reach the Nuclos server.
type ServerSettings struct {
	Host     string `ini:"host"     validate:"required"`
	Port     int    `ini:"port"     validate:"min=1,max=65535"`
	Instance string `ini:"instance" validate:"required"`
	SSL      bool   `ini:"ssl"`
}

// AccountSettings holds the credentials and client options sent at login.
type AccountSettings struct {
	Username string `ini:"username" validate:"required"`
	Password string `ini:"password"`
	Locale   string `ini:"locale"`
	LogLevel string `ini:"log_level"`
	LogFile  string `ini:"log_file"`
}

// Settings is the full client configuration, mirroring the two sections of
// the settings file.
type Settings struct {
	Server ServerSettings  `ini:"server"`
	Nuclos AccountSettings `ini:"nuclos"`
}

// Defaults returns settings matching the shipped nuclos.default.ini template.
func Defaults() *Settings {
	return &Settings{
		Server: ServerSettings{
			Host:     "localhost",
			Port:     80,
			Instance: "nuclos",
		},
		Nuclos: AccountSettings{
			Username: "nuclos",
			LogLevel: "info",
		},
	}
}

// Load reads an INI settings file, applying the defaults for every option the
// file does not set.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse loads settings from raw INI content.
func Parse(data []byte) (*Settings, error) {
	file, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	settings := Defaults()
	if err := file.MapTo(settings); err != nil {
		return nil, fmt.Errorf("failed to map settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// Validate checks the settings for structural errors.
func (s *Settings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	return nil
}

// Scheme returns the URL scheme matching the ssl option.
func (s *Settings) Scheme() string {
	if s.Server.SSL {
		return "https"
	}

	return "http"
}
