// Package config resolves agx settings: built-in defaults, then an optional
// TOML file, then environment variables. The CLI loads .env before calling
// Load so those values arrive through the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/haricheung/agx/internal/agq"
	"github.com/haricheung/agx/internal/job"
	"github.com/haricheung/agx/internal/llm"
	"github.com/haricheung/agx/internal/plan"
)

const EnvConfigPath = "AGX_CONFIG"

// Config is passed down explicitly from main; nothing reads the environment
// after Load returns.
type Config struct {
	AGQ             agq.Config
	LLM             llm.Config
	MaxSteps        int
	PlanPath        string
	PlanDescription string
	DataDir         string
	File            string // config file that was applied, "" when none
}

// config.toml key mapping. Keys are flat, one per setting.
type fileConfig struct {
	AGQAddr         string `toml:"agq_addr"`
	AGQSessionKey   string `toml:"agq_session_key"`
	AGQTimeoutSecs  int    `toml:"agq_timeout_secs"`
	MaxSteps        int    `toml:"max_steps"`
	PlanPath        string `toml:"plan_path"`
	PlanDescription string `toml:"plan_description"`
	LLMBaseURL      string `toml:"llm_base_url"`
	LLMAPIKey       string `toml:"llm_api_key"`
	LLMModel        string `toml:"llm_model"`
	LLMTimeoutSecs  int    `toml:"llm_timeout_secs"`
	LLMThinking     bool   `toml:"llm_enable_thinking"`
	DataDir         string `toml:"data_dir"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		AGQ: agq.Config{Addr: agq.DefaultAddr, Timeout: agq.DefaultTimeout},
		LLM: llm.Config{
			BaseURL: llm.DefaultBaseURL,
			Model:   llm.DefaultModel,
			Timeout: llm.DefaultTimeout,
			Label:   "planner",
		},
		MaxSteps: job.DefaultMaxSteps,
		PlanPath: plan.DefaultPath(),
		DataDir:  defaultDataDir(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "agx")
	}
	return filepath.Join(home, ".cache", "agx")
}

// DefaultFilePath is ~/.config/agx/config.toml, or "" without a home dir.
func DefaultFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "agx", "config.toml")
}

// Load builds the effective configuration.
//
// Expectations:
//   - A missing default config file is not an error
//   - A missing file named by AGX_CONFIG is an error
//   - Environment variables override file values
//   - Non-numeric or non-positive numeric env values are errors
func Load() (Config, error) {
	cfg := Default()

	path, explicit := strings.TrimSpace(os.Getenv(EnvConfigPath)), true
	if path == "" {
		path, explicit = DefaultFilePath(), false
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			if err := cfg.applyFile(path); err != nil {
				return Config{}, err
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		return fmt.Errorf("config: %s: unknown key %q", path, keys[0].String())
	}

	if meta.IsDefined("agq_addr") {
		c.AGQ.Addr = strings.TrimSpace(raw.AGQAddr)
	}
	if meta.IsDefined("agq_session_key") {
		c.AGQ.SessionKey = raw.AGQSessionKey
	}
	if meta.IsDefined("agq_timeout_secs") {
		if raw.AGQTimeoutSecs <= 0 {
			return fmt.Errorf("config: %s: agq_timeout_secs must be positive", path)
		}
		c.AGQ.Timeout = time.Duration(raw.AGQTimeoutSecs) * time.Second
	}
	if meta.IsDefined("max_steps") {
		if raw.MaxSteps <= 0 {
			return fmt.Errorf("config: %s: max_steps must be positive", path)
		}
		c.MaxSteps = raw.MaxSteps
	}
	if meta.IsDefined("plan_path") {
		c.PlanPath = expandHome(strings.TrimSpace(raw.PlanPath))
	}
	if meta.IsDefined("plan_description") {
		c.PlanDescription = strings.TrimSpace(raw.PlanDescription)
	}
	if meta.IsDefined("llm_base_url") {
		c.LLM.BaseURL = strings.TrimSpace(raw.LLMBaseURL)
	}
	if meta.IsDefined("llm_api_key") {
		c.LLM.APIKey = raw.LLMAPIKey
	}
	if meta.IsDefined("llm_model") {
		c.LLM.Model = strings.TrimSpace(raw.LLMModel)
	}
	if meta.IsDefined("llm_timeout_secs") {
		if raw.LLMTimeoutSecs <= 0 {
			return fmt.Errorf("config: %s: llm_timeout_secs must be positive", path)
		}
		c.LLM.Timeout = time.Duration(raw.LLMTimeoutSecs) * time.Second
	}
	if meta.IsDefined("llm_enable_thinking") {
		c.LLM.EnableThinking = raw.LLMThinking
	}
	if meta.IsDefined("data_dir") {
		c.DataDir = expandHome(strings.TrimSpace(raw.DataDir))
	}
	c.File = path
	return nil
}

func (c *Config) applyEnv() error {
	if v := env("AGQ_ADDR"); v != "" {
		c.AGQ.Addr = v
	}
	if v, ok := os.LookupEnv("AGQ_SESSION_KEY"); ok {
		c.AGQ.SessionKey = v
	}
	if secs, ok, err := envSeconds("AGQ_TIMEOUT_SECS"); err != nil {
		return err
	} else if ok {
		c.AGQ.Timeout = secs
	}
	if n, ok, err := envPositive("AGX_MAX_STEPS"); err != nil {
		return err
	} else if ok {
		c.MaxSteps = n
	}
	if v := env("AGX_PLAN_PATH"); v != "" {
		c.PlanPath = expandHome(v)
	}
	if v := env("AGX_PLAN_DESCRIPTION"); v != "" {
		c.PlanDescription = v
	}
	if v := env("AGX_LLM_BASE_URL", "OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := env("AGX_LLM_API_KEY", "OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := env("AGX_OLLAMA_MODEL", "AGX_LLM_MODEL", "OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if secs, ok, err := envSeconds("AGX_LLM_TIMEOUT_SECS"); err != nil {
		return err
	} else if ok {
		c.LLM.Timeout = secs
	}
	if v := env("AGX_DATA_DIR"); v != "" {
		c.DataDir = expandHome(v)
	}
	return nil
}

// LedgerPath is the LevelDB directory holding submission history.
func (c Config) LedgerPath() string { return filepath.Join(c.DataDir, "ledger") }

// EventLogPath is the JSONL event log.
func (c Config) EventLogPath() string { return filepath.Join(c.DataDir, "events.jsonl") }

// env returns the first non-blank value among keys.
func env(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

var errNotPositive = errors.New("must be a positive integer")

func envPositive(key string) (int, bool, error) {
	raw := env(key)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false, fmt.Errorf("config: %s=%q: %w", key, raw, errNotPositive)
	}
	return n, true, nil
}

func envSeconds(key string) (time.Duration, bool, error) {
	n, ok, err := envPositive(key)
	return time.Duration(n) * time.Second, ok, err
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
