// Package config loads the YAML description of a target and builds the
// environment that drives it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	TargetCosmos  = "cosmos"
	TargetTree    = "tree"
	TargetCommand = "command"
)

// Config describes one target and the environment around it.
// Durations are written the way time.ParseDuration reads them ("30s").
type Config struct {
	Target string `yaml:"target" validate:"required,oneof=cosmos tree command"`
	// Binary is the target executable; cosmos runs the go tool.
	Binary string `yaml:"binary" validate:"required_unless=Target cosmos"`
	Dir    string `yaml:"dir"`
	// Args follow Binary for command targets. {seed} and {guide} are substituted.
	Args []string `yaml:"args" validate:"required_if=Target command"`

	// SDKConfig holds extra whitespace separated simulation flags.
	SDKConfig string  `yaml:"sdk_config"`
	TreeDepth int     `yaml:"tree_depth" validate:"gte=0"`
	TreePrune float64 `yaml:"tree_prune" validate:"gte=0,lte=1"`

	Channel  string   `yaml:"channel" validate:"omitempty,oneof=pipe stdin"`
	GuideDir string   `yaml:"guide_dir"`
	Env      []string `yaml:"env" validate:"dive,contains=="`

	StartTimeout time.Duration `yaml:"start_timeout" validate:"gte=0"`
	StepTimeout  time.Duration `yaml:"step_timeout" validate:"gte=0"`
	KillGrace    time.Duration `yaml:"kill_grace" validate:"gte=0"`

	Bypass       bool `yaml:"bypass"`
	ReuseProcess bool `yaml:"reuse_process"`
	PanicAsFail  bool `yaml:"panic_as_fail"`
	// FailBonus defaults to 1 when absent.
	FailBonus *float64 `yaml:"fail_bonus"`

	ActionMode   string `yaml:"action_mode" validate:"omitempty,oneof=normalized discrete"`
	DefaultRange int    `yaml:"default_range" validate:"gte=0"`
	LogRange     bool   `yaml:"log_range"`
	Verbose      bool   `yaml:"verbose"`

	Ledger Ledger `yaml:"ledger"`
}

type Ledger struct {
	Backend   string `yaml:"backend" validate:"oneof=file redis memory"`
	Path      string `yaml:"path" validate:"required_if=Backend file"`
	RedisAddr string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisKey  string `yaml:"redis_key"`
	Base      int    `yaml:"base" validate:"gte=1"`
}

var validate = validator.New()

// Default is the configuration of the tree target, the one that runs
// without any external checkout.
func Default() *Config {
	c := &Config{Target: TargetTree, Binary: "./tree"}
	c.applyDefaults()
	return c
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the struct tags and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return fmt.Errorf("config: %w", err)
	}
	problems := make([]string, 0, len(fields))
	for _, f := range fields {
		problems = append(problems, fmt.Sprintf("%s fails %s", f.Namespace(), f.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(problems, "; "))
}

func (c *Config) applyDefaults() {
	switch c.Target {
	case TargetCosmos:
		if c.Binary == "" {
			c.Binary = "go"
		}
		if c.Channel == "" {
			c.Channel = "pipe"
		}
		if c.StartTimeout == 0 {
			c.StartTimeout = 5 * time.Minute
		}
	case TargetTree:
		if c.TreeDepth == 0 {
			c.TreeDepth = 4
		}
		if c.TreePrune == 0 {
			c.TreePrune = 0.5
		}
		if c.Channel == "" {
			c.Channel = "stdin"
		}
		if c.ActionMode == "" {
			c.ActionMode = "discrete"
		}
		if c.DefaultRange == 0 {
			c.DefaultRange = 32
		}
	}
	if c.Channel == "" {
		c.Channel = "pipe"
	}
	if c.GuideDir == "" {
		c.GuideDir = "guide"
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.KillGrace == 0 {
		c.KillGrace = 2 * time.Second
	}
	if c.ActionMode == "" {
		c.ActionMode = "normalized"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "file"
	}
	if c.Ledger.Backend == "file" && c.Ledger.Path == "" {
		c.Ledger.Path = "states.json"
	}
	if c.Ledger.RedisKey == "" {
		c.Ledger.RedisKey = "fuzzgym:states"
	}
	if c.Ledger.Base == 0 {
		c.Ledger.Base = 1
	}
}
