package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	AdminID       int64  `json:"admin_id"`
	AllowedUsers  string `json:"allowed_users"`
	Telegram      struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Gemini struct {
		APIKey     string `json:"api_key"`
		TextPro    string `json:"text_pro"`
		TextFlash  string `json:"text_flash"`
		ImagePro   string `json:"image_pro"`
		ImageFlash string `json:"image_flash"`
	} `json:"gemini"`
	Transcript struct {
		Languages []string `json:"languages"`
		MaxTokens int      `json:"max_tokens"`
	} `json:"transcript"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".geminigram"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.Gemini.TextPro = "gemini-3-pro-preview"
	cfg.Gemini.TextFlash = "gemini-3-flash-preview"
	cfg.Gemini.ImagePro = "gemini-3-pro-image-preview"
	cfg.Gemini.ImageFlash = "gemini-2.5-flash-image"
	cfg.Transcript.Languages = []string{"ru", "en"}
	cfg.Transcript.MaxTokens = 24000
	cfg.HTTP.Listen = "127.0.0.1:8090"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		cfg.Gemini.APIKey = apiKey
	}
	if admin := os.Getenv("GEMINIGRAM_ADMIN_ID"); admin != "" {
		id, err := strconv.ParseInt(admin, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse GEMINIGRAM_ADMIN_ID: %w", err)
		}
		cfg.AdminID = id
	}
	if users := os.Getenv("GEMINIGRAM_ALLOWED_USERS"); users != "" {
		cfg.AllowedUsers = users
	}

	return cfg, nil
}

// Save writes cfg to path as indented JSON via a temp file rename.
func Save(path string, cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	return saveMap(path, m)
}

// ToMap converts the config into a nested map via its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns the config as a flat dot-keyed map, optionally
// masking secret values.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value for the dot-separated key in the config
// file at path. The file is created with defaults if it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	flat := Flatten(nested)
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue updates a single dot-separated key in the config file at
// path. Keys not known to the Config struct are preserved as-is. The
// value string is parsed as JSON when possible, so numbers and bools
// keep their type.
func SetValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	flat := Flatten(nested)
	flat[key] = coerce(value)
	return saveMap(path, Unflatten(flat))
}

func coerce(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func saveMap(path string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
