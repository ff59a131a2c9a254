// Package config resolves the ModelConfig used by the streaming client.
//
// Precedence, highest first:
//  1. command line flags registered with RegisterFlags
//  2. environment variables with the LLAMA_ prefix (LLAMA_BASE_URL, ...),
//     including anything loaded from a .env file by LoadEnv
//  3. the values from Default
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/blixt/llama-stream/i18n"
)

const envPrefix = "LLAMA"

const (
	KeyBaseURL          = "base_url"
	KeyAPIKey           = "api_key"
	KeyModelName        = "model_name"
	KeyMaxTokens        = "max_tokens"
	KeyTemperature      = "temperature"
	KeyTopP             = "top_p"
	KeyFrequencyPenalty = "frequency_penalty"
	KeyLang             = "lang"
	KeyTimeout          = "timeout"
)

// ModelConfig carries the generation parameters for one chat endpoint.
type ModelConfig struct {
	BaseURL          string
	APIKey           string
	ModelName        string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	// Lang picks the labels of the metrics report.
	Lang string
	// Timeout bounds a whole request, streaming included. Zero means the
	// request may block for as long as the server keeps the stream open.
	Timeout time.Duration
}

func Default() ModelConfig {
	return ModelConfig{
		BaseURL:          "http://localhost:8080",
		ModelName:        "autoglm-phone-9b",
		MaxTokens:        3000,
		Temperature:      0.0,
		TopP:             0.85,
		FrequencyPenalty: 0.2,
		Lang:             i18n.DefaultLang,
	}
}

// Validate reports the first setting that cannot produce a usable request.
func (c ModelConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return errors.New("base URL must not be empty")
	case strings.TrimSpace(c.ModelName) == "":
		return errors.New("model name must not be empty")
	case c.MaxTokens <= 0:
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	case c.Timeout < 0:
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	case !i18n.Supported(c.Lang):
		return fmt.Errorf("unsupported language %q", c.Lang)
	}
	return nil
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"base-url":          KeyBaseURL,
	"api-key":           KeyAPIKey,
	"model":             KeyModelName,
	"max-tokens":        KeyMaxTokens,
	"temperature":       KeyTemperature,
	"top-p":             KeyTopP,
	"frequency-penalty": KeyFrequencyPenalty,
	"lang":              KeyLang,
	"timeout":           KeyTimeout,
}

// RegisterFlags adds one flag per config key to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("base-url", d.BaseURL, "Base URL of the OpenAI-compatible server")
	flags.String("api-key", d.APIKey, "Bearer token sent to the server, if any")
	flags.StringP("model", "m", d.ModelName, "Model name")
	flags.Int("max-tokens", d.MaxTokens, "Maximum number of tokens to generate")
	flags.Float64("temperature", d.Temperature, "Sampling temperature")
	flags.Float64("top-p", d.TopP, "Nucleus sampling probability mass")
	flags.Float64("frequency-penalty", d.FrequencyPenalty, "Frequency penalty")
	flags.String("lang", d.Lang, "Language of the metrics report (cn or en)")
	flags.Duration("timeout", d.Timeout, "Deadline for a whole request, 0 for none")
}

// Load resolves a ModelConfig from flags (may be nil), the environment and
// the defaults, and validates it.
func Load(flags *pflag.FlagSet) (ModelConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return ModelConfig{}, fmt.Errorf("binding flag %q: %w", name, err)
			}
		}
	}

	cfg := ModelConfig{
		BaseURL:          v.GetString(KeyBaseURL),
		APIKey:           v.GetString(KeyAPIKey),
		ModelName:        v.GetString(KeyModelName),
		MaxTokens:        v.GetInt(KeyMaxTokens),
		Temperature:      v.GetFloat64(KeyTemperature),
		TopP:             v.GetFloat64(KeyTopP),
		FrequencyPenalty: v.GetFloat64(KeyFrequencyPenalty),
		Lang:             v.GetString(KeyLang),
		Timeout:          v.GetDuration(KeyTimeout),
	}
	if err := cfg.Validate(); err != nil {
		return ModelConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyBaseURL, d.BaseURL)
	v.SetDefault(KeyAPIKey, d.APIKey)
	v.SetDefault(KeyModelName, d.ModelName)
	v.SetDefault(KeyMaxTokens, d.MaxTokens)
	v.SetDefault(KeyTemperature, d.Temperature)
	v.SetDefault(KeyTopP, d.TopP)
	v.SetDefault(KeyFrequencyPenalty, d.FrequencyPenalty)
	v.SetDefault(KeyLang, d.Lang)
	v.SetDefault(KeyTimeout, d.Timeout)
}

// LoadEnv loads the given .env files (".env" when none are given) into the
// process environment, overriding variables that are already set. Missing
// files are not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Overload(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}
	return nil
}
