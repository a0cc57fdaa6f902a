package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr  string              `json:"listen_addr" yaml:"listen_addr"`
	Database    DatabaseConfig      `json:"database" yaml:"database"`
	Auth        AuthConfig          `json:"auth" yaml:"auth"`
	Security    SecurityConfig      `json:"security" yaml:"security"`
	Quota       QuotaConfig         `json:"quota" yaml:"quota"`
	RunDefaults RunDefaultsConfig   `json:"run_defaults" yaml:"run_defaults"`
	Observer    ObservabilityConfig `json:"observability" yaml:"observability"`
	Limits      QuickEvalLimits     `json:"limits" yaml:"limits"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminAllowedDomains []string `json:"admin_allowed_domains" yaml:"admin_allowed_domains"`
	AdminToken          string   `json:"admin_token" yaml:"admin_token"`
}

// QuotaConfig bounds what the service will dispatch against remote targets:
// how many evaluations may run at once, and how many cases may be planned
// per UTC day across all runs.
type QuotaConfig struct {
	MaxParallelRuns int `json:"max_parallel_runs" yaml:"max_parallel_runs"`
	DailyCaseQuota  int `json:"daily_case_quota" yaml:"daily_case_quota"`
	MaxRunBudget    int `json:"max_run_budget" yaml:"max_run_budget"`
}

type RunDefaultsConfig struct {
	Mode           string `json:"mode" yaml:"mode"`
	TotalBudget    int    `json:"total_budget" yaml:"total_budget"`
	CaseTimeoutSec int    `json:"case_timeout_sec" yaml:"case_timeout_sec"`
	Concurrency    int    `json:"concurrency" yaml:"concurrency"`
	TimeoutSec     int    `json:"timeout_sec" yaml:"timeout_sec"`
	DatasetPath    string `json:"dataset_path" yaml:"dataset_path"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

type QuickEvalLimits struct {
	QuickEvalRPM int `json:"quick_eval_rpm" yaml:"quick_eval_rpm"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "bench_session",
		},
		Quota: QuotaConfig{
			MaxParallelRuns: 2,
			DailyCaseQuota:  5000,
			MaxRunBudget:    500,
		},
		RunDefaults: RunDefaultsConfig{
			Mode:           "adaptive",
			TotalBudget:    100,
			CaseTimeoutSec: 30,
			Concurrency:    10,
			TimeoutSec:     1800,
		},
		Observer: ObservabilityConfig{
			ServiceName: "bench-api",
			SampleRatio: 1,
		},
		Limits: QuickEvalLimits{
			QuickEvalRPM: 6,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "bench_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if cfg.Quota.MaxParallelRuns <= 0 {
		cfg.Quota.MaxParallelRuns = 2
	}
	if cfg.Quota.DailyCaseQuota <= 0 {
		cfg.Quota.DailyCaseQuota = 5000
	}
	if cfg.Quota.MaxRunBudget <= 0 {
		cfg.Quota.MaxRunBudget = 500
	}
	if strings.TrimSpace(cfg.RunDefaults.Mode) == "" {
		cfg.RunDefaults.Mode = "adaptive"
	}
	if cfg.RunDefaults.TotalBudget <= 0 {
		cfg.RunDefaults.TotalBudget = 100
	}
	if cfg.RunDefaults.CaseTimeoutSec <= 0 {
		cfg.RunDefaults.CaseTimeoutSec = 30
	}
	if cfg.RunDefaults.Concurrency <= 0 {
		cfg.RunDefaults.Concurrency = 10
	}
	if cfg.RunDefaults.TimeoutSec <= 0 {
		cfg.RunDefaults.TimeoutSec = 1800
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "bench-api"
	}
	if cfg.Limits.QuickEvalRPM <= 0 {
		cfg.Limits.QuickEvalRPM = 6
	}
}
