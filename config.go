package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Default configuration values.
const (
	defaultConfigPath     = "portal.json"
	defaultUA             = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultAcceptLanguage = "en-IN,en-GB;q=0.9,en-US;q=0.8,en;q=0.7"
	defaultSessionCookie  = "JSESSIONID"
	defaultCaptchaFile    = "captcha.png"
	defaultSessionFile    = "session.txt"
	defaultSessionMaxAge  = 30 * time.Minute
	defaultRetryDelay     = 3 * time.Second
	defaultHTTPTimeout    = 30 * time.Second
	defaultOCREngine      = "tesseract"
	defaultOCRBinary      = "tesseract"
	defaultAIModel        = "gpt-4o-mini"

	envPrefix = "PORTAL_"
)

// ocrConfig selects the OCR engine used for automatic CAPTCHA recognition.
type ocrConfig struct {
	Enabled  bool   `json:"enabled"`
	Engine   string `json:"engine,omitempty"`
	Binary   string `json:"binary,omitempty"`
	Language string `json:"language,omitempty"`
}

// aiConfig holds the vision model settings used as a second CAPTCHA solver.
type aiConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// appConfig holds the application configuration.
type appConfig struct {
	BaseURL        string        `json:"base_url"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	UserAgent      string        `json:"user_agent"`
	AcceptLanguage string        `json:"accept_language"`
	SessionCookie  string        `json:"session_cookie"`
	CaptchaFile    string        `json:"captcha_file"`
	SessionFile    string        `json:"session_file"`
	SessionMaxAge  time.Duration `json:"session_max_age"`
	Attempts       int           `json:"attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
	Timeout        time.Duration `json:"timeout"`
	OCR            ocrConfig     `json:"ocr"`
	AI             aiConfig      `json:"ai,omitempty"`
}

func defaultConfig() appConfig {
	return appConfig{
		UserAgent:      defaultUA,
		AcceptLanguage: defaultAcceptLanguage,
		SessionCookie:  defaultSessionCookie,
		CaptchaFile:    defaultCaptchaFile,
		SessionFile:    defaultSessionFile,
		SessionMaxAge:  defaultSessionMaxAge,
		Attempts:       1,
		RetryDelay:     defaultRetryDelay,
		Timeout:        defaultHTTPTimeout,
		OCR: ocrConfig{
			Enabled: true,
			Engine:  defaultOCREngine,
			Binary:  defaultOCRBinary,
		},
		AI: aiConfig{
			Model: defaultAIModel,
		},
	}
}

// envKey maps PORTAL_AI__API_KEY to ai.api_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// loadConfig loads configuration from the specified path, then applies
// PORTAL_* environment overrides. A missing file is not an error.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultConfig()

	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), koanfjson.Parser()); err != nil {
				return appConfig{}, fmt.Errorf("load config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return appConfig{}, fmt.Errorf("stat config: %w", err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return appConfig{}, fmt.Errorf("load env: %w", err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return appConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Username = strings.TrimSpace(cfg.Username)
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUA
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = defaultSessionCookie
	}
	if cfg.CaptchaFile == "" {
		cfg.CaptchaFile = defaultCaptchaFile
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if strings.TrimSpace(cfg.OCR.Engine) == "" {
		cfg.OCR.Engine = defaultOCREngine
	}
	if strings.TrimSpace(cfg.OCR.Binary) == "" {
		cfg.OCR.Binary = defaultOCRBinary
	}
	if strings.TrimSpace(cfg.AI.Model) == "" {
		cfg.AI.Model = defaultAIModel
	}
	return cfg, nil
}

// validateLogin checks the fields a login run cannot do without.
func (c appConfig) validateLogin() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config: %s (set in config file or %s* env)", strings.Join(missing, ", "), envPrefix)
	}
	return nil
}
