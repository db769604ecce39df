// Package config loads run settings for the recipe runner from recipe.yaml,
// recipe.yml or recipe.toml, the environment and a .env file.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/executor"
)

// ErrInvalidConfig is wrapped by every load and validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultFiles are tried in order when no config path is given.
var DefaultFiles = []string{"recipe.yaml", "recipe.yml", "recipe.toml"}

// Environment variables that override file values.
const (
	EnvPackageManager = "RECIPE_PACKAGE_MANAGER"
	EnvRoot           = "RECIPE_ROOT"
	EnvLogLevel       = "RECIPE_LOG_LEVEL"
	EnvWorkers        = "RECIPE_WORKERS"
)

// PolicyName is a failure policy as written in config files.
type PolicyName string

// JSONSchema restricts policy values to the known policies.
func (PolicyName) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        []any{"continue", "block"},
		Description: "continue lets the step complete after a failure; block waits for confirmation",
	}
}

// Config is the run configuration.
type Config struct {
	PackageManager string                `yaml:"package_manager" toml:"package_manager" json:"package_manager" jsonschema:"enum=yarn,enum=npm,enum=pnpm"`
	Root           string                `yaml:"root"            toml:"root"            json:"root"            jsonschema:"minLength=1"`
	HostConfig     string                `yaml:"host_config"     toml:"host_config"     json:"host_config"     jsonschema:"minLength=1"`
	FailurePolicy  map[string]PolicyName `yaml:"failure_policy"  toml:"failure_policy"  json:"failure_policy,omitempty"`
	Log            Log                   `yaml:"log"             toml:"log"             json:"log"`
	Trace          string                `yaml:"trace"           toml:"trace"           json:"trace,omitempty"`
	DryRun         bool                  `yaml:"dry_run"         toml:"dry_run"         json:"dry_run"`
	Workers        int                   `yaml:"workers"         toml:"workers"         json:"workers"         jsonschema:"minimum=1,maximum=64"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level" toml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	File  string `yaml:"file"  toml:"file"  json:"file,omitempty"`
	JSON  bool   `yaml:"json"  toml:"json"  json:"json"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		PackageManager: string(executor.Yarn),
		Root:           ".",
		HostConfig:     "site.yaml",
		Log:            Log{Level: "info"},
		Workers:        4,
	}
}

// Load reads path, or the first of DefaultFiles found in the working
// directory when path is empty, applies environment overrides and validates
// the result. A missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		for _, name := range DefaultFiles {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("%w: %s: unknown keys %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
		}
	default:
		return fmt.Errorf("%w: %s: unsupported format %q", ErrInvalidConfig, path, filepath.Ext(path))
	}
	return nil
}

// ApplyEnv overrides fields from environment variables looked up with
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPackageManager); ok && v != "" {
		c.PackageManager = v
	}
	if v, ok := lookup(EnvRoot); ok && v != "" {
		c.Root = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvWorkers, err)
		}
		c.Workers = n
	}
	return nil
}

// Validate checks the config against its JSON Schema and the known
// policies and package managers.
func (c *Config) Validate() error {
	problems, err := validateSchema(c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	if _, err := c.Policies(); err != nil {
		return err
	}
	_, err = c.PackageManagerValue()
	return err
}

// Policies converts FailurePolicy for commands.Registry.SetPolicy.
func (c *Config) Policies() (map[string]commands.Policy, error) {
	out := make(map[string]commands.Policy, len(c.FailurePolicy))
	for kind, name := range c.FailurePolicy {
		p, err := commands.ParsePolicy(string(name))
		if err != nil {
			return nil, fmt.Errorf("%w: failure_policy.%s: %v", ErrInvalidConfig, kind, err)
		}
		out[kind] = p
	}
	return out, nil
}

// PackageManagerValue returns the parsed package manager.
func (c *Config) PackageManagerValue() (executor.PackageManager, error) {
	pm, err := executor.ParsePackageManager(c.PackageManager)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return pm, nil
}

// HostConfigPath resolves HostConfig against Root.
func (c *Config) HostConfigPath() string {
	if filepath.IsAbs(c.HostConfig) {
		return c.HostConfig
	}
	return filepath.Join(c.Root, c.HostConfig)
}

// LoadDotEnv sets variables from a KEY=value file. Existing variables are
// kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, val); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
