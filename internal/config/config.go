package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings tree. Redis is optional: with no
// address configured the broadcast router runs local push only.
type Config struct {
	HTTP    *HTTPConfig    `json:"http"`
	Session *SessionConfig `json:"session"`
	Redis   *RedisConfig   `json:"redis"`
	Lesson  *LessonConfig  `json:"lesson"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type SessionConfig struct {
	// RemovalGrace is how long an ended session's record stays readable.
	RemovalGrace time.Duration `json:"removal_grace"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LessonConfig struct {
	DatabasePath string `json:"database_path"`
}

// DefaultConfig returns the defaults a bare server runs with.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Session: &SessionConfig{
			RemovalGrace: time.Minute,
		},
		Redis: &RedisConfig{},
		Lesson: &LessonConfig{
			DatabasePath: "./liveclass.db",
		},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Session == nil || c.Session.RemovalGrace <= 0 {
		return fmt.Errorf("session removal grace must be positive")
	}
	if c.Lesson == nil || c.Lesson.DatabasePath == "" {
		return fmt.Errorf("lesson database path cannot be empty")
	}
	return nil
}

// LoadFromEnv builds a config from defaults overridden by LIVECLASS_*
// environment variables. Unparseable values fall back to the default.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("LIVECLASS_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("LIVECLASS_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if readTimeout := os.Getenv("LIVECLASS_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if writeTimeout := os.Getenv("LIVECLASS_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}
	if grace := os.Getenv("LIVECLASS_SESSION_REMOVAL_GRACE"); grace != "" {
		if d, err := time.ParseDuration(grace); err == nil {
			cfg.Session.RemovalGrace = d
		}
	}
	if addr := os.Getenv("LIVECLASS_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("LIVECLASS_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if db := os.Getenv("LIVECLASS_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = n
		}
	}
	if path := os.Getenv("LIVECLASS_LESSON_DATABASE_PATH"); path != "" {
		cfg.Lesson.DatabasePath = path
	}

	return cfg
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	Session *struct {
		RemovalGrace string `json:"removal_grace"`
	} `json:"session"`
	Redis  *RedisConfig  `json:"redis"`
	Lesson *LessonConfig `json:"lesson"`
}

// LoadFromFile reads a JSON config file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.ReadTimeout != "" {
			if d, err := time.ParseDuration(file.HTTP.ReadTimeout); err == nil {
				cfg.HTTP.ReadTimeout = d
			}
		}
		if file.HTTP.WriteTimeout != "" {
			if d, err := time.ParseDuration(file.HTTP.WriteTimeout); err == nil {
				cfg.HTTP.WriteTimeout = d
			}
		}
	}
	if file.Session != nil && file.Session.RemovalGrace != "" {
		if d, err := time.ParseDuration(file.Session.RemovalGrace); err == nil {
			cfg.Session.RemovalGrace = d
		}
	}
	if file.Redis != nil {
		cfg.Redis = file.Redis
	}
	if file.Lesson != nil && file.Lesson.DatabasePath != "" {
		cfg.Lesson.DatabasePath = file.Lesson.DatabasePath
	}

	return cfg, nil
}
