package core

import (
	"bytes"
	"os"
	"strings"
	"time"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL  = "https://api.github.com"
	DefaultWorkdir = "target_repo"
	DefaultLogDir  = "logs"
	DefaultListen  = ":8080"

	// TokenEnv supplies the credential when the config file leaves it empty.
	TokenEnv = "PUSHCI_TOKEN"
)

// Config is the server configuration. It is loaded once at startup and only
// read afterwards.
type Config struct {
	Token       string        `yaml:"token"`
	MainBranch  string        `yaml:"main_branch"`
	BaseURL     string        `yaml:"base_url"` // where /logs/{sha} is served from
	APIURL      string        `yaml:"api_url"`
	Workdir     string        `yaml:"workdir"`
	LogDir      string        `yaml:"log_dir"`
	Listen      string        `yaml:"listen"`
	TaskTimeout time.Duration `yaml:"task_timeout"` // 0 disables the watchdog
	LogFormat   string        `yaml:"log_format"`
	LogLevel    string        `yaml:"log_level"`
	Ledger      LedgerConfig  `yaml:"ledger"`
	Tasks       []Task        `yaml:"tasks"`
}

type LedgerConfig struct {
	Path   string `yaml:"path"` // empty disables the ledger
	KeyDir string `yaml:"key_dir"`
}

// ParseConfig decodes YAML config, rejecting unknown keys, and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, zerr.Wrap(err, "failed to parse config")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and parses the config file at path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read config"), "path", path)
	}
	return ParseConfig(data)
}

func (c *Config) applyDefaults() {
	if c.Token == "" {
		c.Token = os.Getenv(TokenEnv)
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.Workdir == "" {
		c.Workdir = DefaultWorkdir
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.Listen == "" {
		if port := os.Getenv("PORT"); port != "" {
			c.Listen = ":" + port
		} else {
			c.Listen = DefaultListen
		}
	}
	if c.Ledger.Path != "" && c.Ledger.KeyDir == "" {
		c.Ledger.KeyDir = "keys"
	}
	c.APIURL = strings.TrimSuffix(c.APIURL, "/")
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	if c.Token == "" {
		return zerr.New("token is required (or set " + TokenEnv + ")")
	}
	if c.MainBranch == "" {
		return zerr.New("main_branch is required")
	}
	if c.BaseURL == "" {
		return zerr.New("base_url is required")
	}
	if c.TaskTimeout < 0 {
		return zerr.With(zerr.New("task_timeout must not be negative"), "task_timeout", c.TaskTimeout.String())
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i, task := range c.Tasks {
		if task.Name == "" {
			return zerr.With(zerr.New("task name is required"), "task_index", i)
		}
		if task.Command == "" {
			return zerr.With(zerr.New("task command is required"), "task", task.Name)
		}
		if seen[task.Name] {
			return zerr.With(zerr.New("duplicate task name"), "task", task.Name)
		}
		seen[task.Name] = true
	}
	return nil
}

// LogURL is the link attached to every status of a commit.
func (c *Config) LogURL(sha string) string {
	return c.BaseURL + "/logs/" + sha
}
