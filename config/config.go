// Package config loads the settings of every sign-in component from an
// optional YAML file and SIGNIN_* environment variables.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/gelozr/signin/backend"
	"github.com/gelozr/signin/credstore"
	"github.com/gelozr/signin/log"
	"github.com/gelozr/signin/mail"
	"github.com/gelozr/signin/prefs"
	"github.com/gelozr/signin/social"
	"github.com/gelozr/signin/tokenservice"
	"github.com/gelozr/signin/validate"
)

type Config struct {
	Log      log.Config            `yaml:"log"`
	Backend  tokenservice.Config   `yaml:"backend"`
	Server   backend.Config        `yaml:"server"`
	Vault    credstore.VaultConfig `yaml:"vault"`
	Prefs    prefs.Config          `yaml:"prefs"`
	Mail     mail.Config           `yaml:"mail"`
	Password PasswordPolicy        `yaml:"password"`

	Facebook social.ProviderConfig `yaml:"facebook" env-prefix:"SIGNIN_FACEBOOK_"`
	Google   social.ProviderConfig `yaml:"google" env-prefix:"SIGNIN_GOOGLE_"`
}

type PasswordPolicy struct {
	MinLength int `yaml:"min_length" env:"SIGNIN_PASSWORD_MIN_LENGTH" env-default:"6"`
}

// Load reads path when it is set, then the environment. Environment values
// win over the file.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read config from env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validator() validate.Validator {
	return validate.Validator{MinPasswordLength: c.Password.MinLength}
}

// Usage describes every environment variable Load understands.
func Usage() (string, error) {
	var cfg Config
	return cleanenv.GetDescription(&cfg, nil)
}
