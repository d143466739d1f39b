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
	HTTPAddr      string `json:"http_addr"`
	PublicBaseURL string `json:"public_base_url"`
	MaxConcurrent int    `json:"max_concurrent"`
	Gemini        struct {
		APIKey          string  `json:"api_key"`
		VisionModel     string  `json:"vision_model"`
		FallbackModel   string  `json:"fallback_model"`
		ImageModel      string  `json:"image_model"`
		ImageFallback   string  `json:"image_fallback"`
		MaxOutputTokens int     `json:"max_output_tokens"`
		Temperature     float32 `json:"temperature"`
	} `json:"gemini"`
	Budget struct {
		FirstResultSeconds       int `json:"first_result_seconds"`
		HardCapSeconds           int `json:"hard_cap_seconds"`
		PrimaryAttemptSeconds    int `json:"primary_attempt_seconds"`
		FallbackAllowanceSeconds int `json:"fallback_allowance_seconds"`
		PerSegmentSeconds        int `json:"per_segment_seconds"`
		ImageSeconds             int `json:"image_seconds"`
		StoreSeconds             int `json:"store_seconds"`
		HeartbeatSeconds         int `json:"heartbeat_seconds"`
	} `json:"budget"`
	Database struct {
		DSN string `json:"dsn"`
	} `json:"database"`
	Storage struct {
		Endpoint        string `json:"endpoint"`
		Region          string `json:"region"`
		Bucket          string `json:"bucket"`
		AccessKeyID     string `json:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key"`
		KeyPrefix       string `json:"key_prefix"`
	} `json:"storage"`
	Expo struct {
		Endpoint string `json:"endpoint"`
	} `json:"expo"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
	TranslatePromptTokens int `json:"translate_prompt_tokens"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".omakase"),
		LogLevel:      "info",
		HTTPAddr:      ":8080",
		PublicBaseURL: "http://localhost:8080",
		MaxConcurrent: 2,
	}
	cfg.Gemini.VisionModel = "gemini-2.5-pro"
	cfg.Gemini.FallbackModel = "gemini-2.5-flash"
	cfg.Gemini.ImageModel = "gemini-3-pro-image-preview"
	cfg.Gemini.ImageFallback = "imagen-3.0-generate-001"
	cfg.Gemini.Temperature = 0.2
	cfg.Budget.FirstResultSeconds = 60
	cfg.Budget.HardCapSeconds = 180
	cfg.Budget.PrimaryAttemptSeconds = 240
	cfg.Budget.FallbackAllowanceSeconds = 60
	cfg.Budget.PerSegmentSeconds = 75
	cfg.Budget.ImageSeconds = 60
	cfg.Budget.StoreSeconds = 20
	cfg.Budget.HeartbeatSeconds = 10
	cfg.TranslatePromptTokens = 6000

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
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		cfg.Gemini.APIKey = apiKey
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("OMAKASE_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if baseURL := os.Getenv("OMAKASE_PUBLIC_BASE_URL"); baseURL != "" {
		cfg.PublicBaseURL = baseURL
	}
	if accessKey := os.Getenv("R2_ACCESS_KEY_ID"); accessKey != "" {
		cfg.Storage.AccessKeyID = accessKey
	}
	if secretKey := os.Getenv("R2_SECRET_ACCESS_KEY"); secretKey != "" {
		cfg.Storage.SecretAccessKey = secretKey
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if tgChat := os.Getenv("TELEGRAM_CHAT_ID"); tgChat != "" {
		id, err := strconv.ParseInt(tgChat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
