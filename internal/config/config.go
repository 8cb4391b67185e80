// Package config loads bot configuration from an HCL file, with sane
// defaults so the bot runs with nothing but a token.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config represents the complete bot configuration
type Config struct {
	Server ServerSettings `hcl:"server,block"`
	Bot    BotSettings    `hcl:"bot,block"`
	Log    LogSettings    `hcl:"log,block"`
}

// ServerSettings contains service connection settings
type ServerSettings struct {
	URL            string `hcl:"url"`
	RequestTimeout int    `hcl:"request_timeout,optional"`
	RetryDelay     int    `hcl:"retry_delay,optional"`
}

// BotSettings contains bot identity and admission settings
type BotSettings struct {
	Name     string `hcl:"name"`
	Token    string `hcl:"token,optional"`
	MaxGames int    `hcl:"max_games,optional"`
}

// LogSettings contains logging settings
type LogSettings struct {
	Level string `hcl:"level,optional"`
	File  string `hcl:"file,optional"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			URL:            "https://lichess.org",
			RequestTimeout: 30,
			RetryDelay:     60,
		},
		Bot: BotSettings{
			Name:     "blunderbot",
			MaxGames: 8,
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}

// Load loads configuration from an HCL file. A missing file yields the
// defaults. The BLUNDERBOT_TOKEN environment variable overrides any token
// in the file, so the token never has to live on disk.
func Load(filename string) (*Config, error) {
	config, err := load(filename)
	if err != nil {
		return nil, err
	}
	if token := os.Getenv("BLUNDERBOT_TOKEN"); token != "" {
		config.Bot.Token = token
	}
	return config, nil
}

func load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	// Apply defaults for missing values
	defaults := Default()

	if config.Server.URL == "" {
		config.Server.URL = defaults.Server.URL
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if config.Server.RetryDelay == 0 {
		config.Server.RetryDelay = defaults.Server.RetryDelay
	}

	if config.Bot.Name == "" {
		config.Bot.Name = defaults.Bot.Name
	}
	if config.Bot.MaxGames == 0 {
		config.Bot.MaxGames = defaults.Bot.MaxGames
	}

	if config.Log.Level == "" {
		config.Log.Level = defaults.Log.Level
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.Bot.Token == "" {
		return fmt.Errorf("bot token is required (set bot.token or BLUNDERBOT_TOKEN)")
	}
	if c.Bot.MaxGames < 1 {
		return fmt.Errorf("max_games must be at least 1")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return nil
}
