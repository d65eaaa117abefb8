// Package config handles loading, defaulting, and hot-reloading lectern
// configuration.
package config

import "sort"

// Config holds lectern configuration.
// Stored at: ~/.lectern/config.yaml
type Config struct {
	OpenAI    OpenAICfg         `mapstructure:"openai" yaml:"openai"`
	Workspace WorkspaceCfg      `mapstructure:"workspace" yaml:"workspace"`
	Render    RenderCfg         `mapstructure:"render" yaml:"render"`
	Courses   map[string]string `mapstructure:"courses" yaml:"courses"` // course name -> destination page ID
}

// OpenAICfg configures the model gateway.
type OpenAICfg struct {
	APIKey           string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model            string `mapstructure:"model" yaml:"model"`
	MaxAttempts      uint   `mapstructure:"max_attempts" yaml:"max_attempts"`             // retry ceiling per call
	RetryBaseSeconds int    `mapstructure:"retry_base_seconds" yaml:"retry_base_seconds"` // backoff base
	TimeoutSeconds   int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// WorkspaceCfg configures the destination platform client.
type WorkspaceCfg struct {
	APIKey             string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Version            string `mapstructure:"version" yaml:"version"` // API version header
	MaxAttempts        uint   `mapstructure:"max_attempts" yaml:"max_attempts"`             // retry ceiling per call
	RetryBaseSeconds   int    `mapstructure:"retry_base_seconds" yaml:"retry_base_seconds"` // backoff base
	MaxBlocksPerAppend int    `mapstructure:"max_blocks_per_append" yaml:"max_blocks_per_append"`
	MaxRunLength       int    `mapstructure:"max_run_length" yaml:"max_run_length"`
	UploadWorkers      int    `mapstructure:"upload_workers" yaml:"upload_workers"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// RenderCfg configures PDF rasterization.
type RenderCfg struct {
	DPI     int `mapstructure:"dpi" yaml:"dpi"`
	Workers int `mapstructure:"workers" yaml:"workers"` // 0 = NumCPU
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OpenAI: OpenAICfg{
			APIKey:           "${OPENAI_API_KEY}",
			Model:            "gpt-5.2",
			MaxAttempts:      3,
			RetryBaseSeconds: 2,
			TimeoutSeconds:   120,
		},
		Workspace: WorkspaceCfg{
			APIKey:             "${NOTION_API_KEY}",
			Version:            "2022-06-28",
			MaxAttempts:        3,
			RetryBaseSeconds:   2,
			MaxBlocksPerAppend: 100,
			MaxRunLength:       2000,
			UploadWorkers:      4,
			TimeoutSeconds:     60,
		},
		Render: RenderCfg{
			DPI: 144,
		},
		Courses: map[string]string{},
	}
}

// PageForCourse resolves a course name to its destination page ID, with
// ${ENV_VAR} references expanded.
func (c *Config) PageForCourse(name string) (string, bool) {
	pageID, ok := c.Courses[name]
	if !ok {
		return "", false
	}
	return ResolveEnvVars(pageID), true
}

// CourseNames returns the configured course names, sorted.
func (c *Config) CourseNames() []string {
	names := make([]string, 0, len(c.Courses))
	for name := range c.Courses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
