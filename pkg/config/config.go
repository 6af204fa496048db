// Package config loads the quill configuration from file, environment, and
// flags through viper.
package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/quillhq/quill/pkg/auth"
	"github.com/quillhq/quill/pkg/mcp"
	"github.com/quillhq/quill/pkg/telemetry"
	llmtypes "github.com/quillhq/quill/pkg/types/llm"
)

// Config is the full application configuration.
type Config struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MCP        mcp.Config                `mapstructure:"mcp"`
	Retry      llmtypes.RetryConfig      `mapstructure:"retry"`
	Structured llmtypes.StructuredConfig `mapstructure:"structured_output"`
	Tracing    telemetry.Config          `mapstructure:"tracing"`

	// SkillsAllowed restricts which discovered skills are exposed; empty
	// allows all.
	SkillsAllowed []string `mapstructure:"skills_allowed"`
}

// Init wires viper to the QUILL environment prefix and the standard config
// file locations. Called once from the CLI entry point.
func Init() {
	viper.SetEnvPrefix("QUILL")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.quill")
	viper.AddConfigPath(".")

	// Missing config file is fine, everything has defaults.
	_ = viper.ReadInConfig()
}

// Load unmarshals the merged configuration and validates the server map.
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		oauthDisabledHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal configuration")
	}

	for name, server := range cfg.MCP.Servers {
		if err := server.Validate(); err != nil {
			return cfg, errors.Wrapf(err, "invalid mcp server %q", name)
		}
	}
	return cfg, nil
}

// oauthDisabledHook lets a server descriptor carry `oauth: false` to mean
// "no OAuth" and `oauth: true` to mean "OAuth via dynamic registration".
func oauthDisabledHook() mapstructure.DecodeHookFuncType {
	clientConfigPtr := reflect.TypeOf(&auth.ClientConfig{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != clientConfigPtr || from.Kind() != reflect.Bool {
			return data, nil
		}
		if enabled, ok := data.(bool); ok && enabled {
			return &auth.ClientConfig{}, nil
		}
		return (*auth.ClientConfig)(nil), nil
	}
}
