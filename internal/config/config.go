package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"phasegate/internal/domain"
)

// Config models phasegate.yml.
type Config struct {
	Project struct {
		ID          string `yaml:"id" json:"id"`
		Description string `yaml:"description,omitempty" json:"description,omitempty"`
	} `yaml:"project" json:"project"`
	Phases   map[domain.Phase]PhaseConfig `yaml:"phases" json:"phases"`
	Workflow WorkflowConfig               `yaml:"workflow" json:"workflow"`
	Storage  StorageConfig                `yaml:"storage" json:"storage"`
	Producer ProducerConfig               `yaml:"producer" json:"producer"`
	Logging  LoggingConfig                `yaml:"logging" json:"logging"`
	Webhooks []WebhookConfig              `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type PhaseConfig struct {
	PassScore        *float64                `yaml:"pass_score" json:"pass_score"`
	MaxIterations    int                     `yaml:"max_iterations" json:"max_iterations"`
	MaxRollbacks     int                     `yaml:"max_rollbacks" json:"max_rollbacks"`
	RollbackTriggers map[string]domain.Phase `yaml:"rollback_triggers,omitempty" json:"rollback_triggers,omitempty"`
	Criteria         []CriterionConfig       `yaml:"criteria" json:"criteria"`
}

type CriterionConfig struct {
	Name      string          `yaml:"name" json:"name"`
	Weight    float64         `yaml:"weight" json:"weight"`
	Threshold *float64        `yaml:"threshold" json:"threshold"`
	Partial   float64         `yaml:"partial" json:"partial"`
	Severity  domain.Severity `yaml:"severity" json:"severity"`
	Message   string          `yaml:"message" json:"message"`
	Check     CheckConfig     `yaml:"check" json:"check"`
}

// CheckConfig describes a content checker. All Require terms and at least one
// AnyOf term must appear (case-insensitive); MinLines bounds the line count.
type CheckConfig struct {
	Require  []string `yaml:"require,omitempty" json:"require,omitempty"`
	AnyOf    []string `yaml:"any_of,omitempty" json:"any_of,omitempty"`
	MinLines int      `yaml:"min_lines,omitempty" json:"min_lines,omitempty"`
}

type WorkflowConfig struct {
	MaxTotalIterations     int     `yaml:"max_total_iterations" json:"max_total_iterations"`
	DefaultTargetScore     float64 `yaml:"default_target_score,omitempty" json:"default_target_score,omitempty"`
	DefaultExtraIterations int     `yaml:"default_extra_iterations,omitempty" json:"default_extra_iterations,omitempty"`
}

type StorageConfig struct {
	RetryMaxElapsed      string `yaml:"retry_max_elapsed,omitempty" json:"retry_max_elapsed,omitempty"`
	RetryInitialInterval string `yaml:"retry_initial_interval,omitempty" json:"retry_initial_interval,omitempty"`
}

type ProducerConfig struct {
	Kind      string `yaml:"kind" json:"kind"`
	Dir       string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

const (
	ProducerStatic    = "static"
	ProducerFile      = "file"
	ProducerAnthropic = "anthropic"
)

// ConfigError reports an invalid configuration. It is fatal: no workflow may run.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return invalid("project.id", "is required")
	}
	if len(c.Phases) == 0 {
		return invalid("phases", "is required")
	}
	for name := range c.Phases {
		if !name.Valid() {
			return invalid("phases", "unknown phase %s", name)
		}
	}
	for _, phase := range domain.Phases() {
		pc, ok := c.Phases[phase]
		if !ok {
			return invalid("phases", "missing phase %s", phase)
		}
		if err := pc.validate(phase); err != nil {
			return err
		}
	}
	if c.Workflow.MaxTotalIterations <= 0 {
		return invalid("workflow.max_total_iterations", "must be positive")
	}
	if c.Workflow.DefaultExtraIterations < 0 {
		return invalid("workflow.default_extra_iterations", "must not be negative")
	}
	if t := c.Workflow.DefaultTargetScore; t != 0 {
		if err := c.ValidateTargetScore(domain.PhaseBasicDesign, t); err != nil {
			return err
		}
	}
	if _, err := parseDuration("storage.retry_max_elapsed", c.Storage.RetryMaxElapsed); err != nil {
		return err
	}
	if _, err := parseDuration("storage.retry_initial_interval", c.Storage.RetryInitialInterval); err != nil {
		return err
	}
	switch c.Producer.Kind {
	case "", ProducerStatic, ProducerFile, ProducerAnthropic:
	default:
		return invalid("producer.kind", "unknown producer %q", c.Producer.Kind)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return invalid(fmt.Sprintf("webhooks[%d].url", i), "is required")
		}
	}
	return nil
}

func (pc PhaseConfig) validate(phase domain.Phase) error {
	field := func(name string) string { return fmt.Sprintf("phases.%s.%s", phase, name) }
	if pc.PassScore == nil {
		return invalid(field("pass_score"), "is required")
	}
	if *pc.PassScore <= 0 || *pc.PassScore > 100 {
		return invalid(field("pass_score"), "must be in (0,100], got %v", *pc.PassScore)
	}
	if pc.MaxIterations < 1 {
		return invalid(field("max_iterations"), "must be at least 1")
	}
	if pc.MaxRollbacks < 0 {
		return invalid(field("max_rollbacks"), "must not be negative")
	}
	if len(pc.Criteria) == 0 {
		return invalid(field("criteria"), "is required")
	}
	seen := map[string]bool{}
	sum := 0.0
	for i, c := range pc.Criteria {
		cf := field(fmt.Sprintf("criteria[%d]", i))
		if c.Name == "" {
			return invalid(cf+".name", "is required")
		}
		if seen[c.Name] {
			return invalid(cf+".name", "duplicate criterion %s", c.Name)
		}
		seen[c.Name] = true
		if c.Weight <= 0 {
			return invalid(cf+".weight", "must be positive")
		}
		if c.Threshold == nil {
			return invalid(cf+".threshold", "is required")
		}
		if *c.Threshold < 0 || *c.Threshold > c.Weight {
			return invalid(cf+".threshold", "must be within [0,%v]", c.Weight)
		}
		if c.Partial < 0 || c.Partial > c.Weight {
			return invalid(cf+".partial", "must be within [0,%v]", c.Weight)
		}
		if !c.Severity.Valid() {
			return invalid(cf+".severity", "invalid severity %q", c.Severity)
		}
		if len(c.Check.Require) == 0 && len(c.Check.AnyOf) == 0 && c.Check.MinLines <= 0 {
			return invalid(cf+".check", "needs require, any_of or min_lines")
		}
		sum += c.Weight
	}
	if math.Abs(sum-100) > 1e-9 {
		return invalid(field("criteria"), "weights must sum to 100, got %v", sum)
	}
	for _, cond := range pc.TriggerConditions() {
		target := pc.RollbackTriggers[cond]
		if cond == "" {
			return invalid(field("rollback_triggers"), "empty condition")
		}
		if !target.Before(phase) {
			return invalid(field("rollback_triggers"), "target %s of %q must be an earlier phase", target, cond)
		}
	}
	return nil
}

// TriggerConditions returns rollback trigger conditions in sorted order.
func (pc PhaseConfig) TriggerConditions() []string {
	out := make([]string, 0, len(pc.RollbackTriggers))
	for cond := range pc.RollbackTriggers {
		out = append(out, cond)
	}
	sort.Strings(out)
	return out
}

// Pass returns the configured pass score.
func (pc PhaseConfig) Pass() float64 {
	if pc.PassScore == nil {
		return 100
	}
	return *pc.PassScore
}

// Phase returns the configuration of one phase.
func (c *Config) Phase(p domain.Phase) (PhaseConfig, error) {
	pc, ok := c.Phases[p]
	if !ok {
		return PhaseConfig{}, invalid("phases", "missing phase %s", p)
	}
	return pc, nil
}

// ValidateTargetScore checks a caller-supplied target against every phase from
// start onwards: the target may only raise the bar, never lower it.
func (c *Config) ValidateTargetScore(start domain.Phase, target float64) error {
	if target <= 0 || target > 100 {
		return invalid("target_score", "must be in (0,100], got %v", target)
	}
	for _, p := range domain.Phases() {
		if p.Before(start) {
			continue
		}
		pc, err := c.Phase(p)
		if err != nil {
			return err
		}
		if target < pc.Pass() {
			return invalid("target_score", "%v is below %s pass score %v", target, p, pc.Pass())
		}
	}
	return nil
}

// RetryMaxElapsed returns the bound on transient storage retries.
func (c *Config) RetryMaxElapsed() time.Duration {
	d, _ := parseDuration("", c.Storage.RetryMaxElapsed)
	if d == 0 {
		return 5 * time.Second
	}
	return d
}

func (c *Config) RetryInitialInterval() time.Duration {
	d, _ := parseDuration("", c.Storage.RetryInitialInterval)
	if d == 0 {
		return 50 * time.Millisecond
	}
	return d
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, invalid(field, "invalid duration %q", v)
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "phasegate.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional reads the workspace phasegate.yml. It returns nil, nil when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Field: "yaml", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
