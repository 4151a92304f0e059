package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profile is the YAML overlay applied on top of environment configuration.
// Only fields present in the file override the loaded values; zero values in
// the file are ignored so a partial profile stays partial.
type profile struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	UserTimezone             string   `yaml:"user_timezone"`
	MinConfidenceToWrite     *float64 `yaml:"min_confidence_to_write"`
	MaxInferredFields        *int     `yaml:"max_inferred_fields"`
	ExecuteActions           *bool    `yaml:"execute_actions"`
	ClarificationExpiryHours *int     `yaml:"clarification_expiry_hours"`

	ProjectResolution struct {
		Threshold *float64 `yaml:"threshold"`
		Margin    *float64 `yaml:"margin"`
	} `yaml:"project_resolution"`

	Gateway struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"gateway"`

	ContextAPI struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"context_api"`

	RateLimit struct {
		RPS   *int `yaml:"rps"`
		Burst *int `yaml:"burst"`
	} `yaml:"rate_limit"`

	CORSOrigins []string `yaml:"cors_origins"`
	PolicyRule  string   `yaml:"policy_rule"`
}

func applyProfile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config profile %s: %w", path, err)
	}
	var p profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse config profile %s: %w", path, err)
	}

	if p.Port != "" {
		cfg.Port = p.Port
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.UserTimezone != "" {
		cfg.UserTimezone = p.UserTimezone
	}
	if p.MinConfidenceToWrite != nil {
		cfg.MinConfidenceToWrite = *p.MinConfidenceToWrite
	}
	if p.MaxInferredFields != nil {
		cfg.MaxInferredFields = *p.MaxInferredFields
	}
	if p.ExecuteActions != nil {
		cfg.ExecuteActions = *p.ExecuteActions
	}
	if p.ClarificationExpiryHours != nil {
		cfg.ClarificationExpiryHours = *p.ClarificationExpiryHours
	}
	if p.ProjectResolution.Threshold != nil {
		cfg.ProjectResolutionThreshold = *p.ProjectResolution.Threshold
	}
	if p.ProjectResolution.Margin != nil {
		cfg.ProjectResolutionMargin = *p.ProjectResolution.Margin
	}
	if p.Gateway.BaseURL != "" {
		cfg.GatewayBaseURL = p.Gateway.BaseURL
	}
	if p.ContextAPI.BaseURL != "" {
		cfg.ContextAPIBaseURL = p.ContextAPI.BaseURL
	}
	if p.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *p.RateLimit.RPS
	}
	if p.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *p.RateLimit.Burst
	}
	if len(p.CORSOrigins) > 0 {
		cfg.CORSOrigins = p.CORSOrigins
	}
	if p.PolicyRule != "" {
		cfg.PolicyRule = p.PolicyRule
	}
	return nil
}
