package util

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/queue"
	"github.com/deemkeen/translatebot/retry"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const Name = "translatebot"
const ConfigFileName = "config.yaml"
const EnvPrefix = "TRANSLATEBOT_"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host           string
		HttpPort       int           `yaml:"httpPort"`
		SslDomain      string        `yaml:"sslDomain"`
		BotUsername    string        `yaml:"botUsername"`
		BotDisplayName string        `yaml:"botDisplayName"`
		BotSummary     string        `yaml:"botSummary"`
		TargetLanguage string        `yaml:"targetLanguage"`
		DatabasePath   string        `yaml:"databasePath"`
		PrivateKeyPath string        `yaml:"privateKeyPath"`
		PublicKeyPath  string        `yaml:"publicKeyPath"`
		LogLevel       string        `yaml:"logLevel"`
		LogColor       bool          `yaml:"logColor"`
		Workers        int           `yaml:"workers"`
		ShutdownGrace  time.Duration `yaml:"shutdownGrace"`

		Translate struct {
			Endpoint string
			ApiKey   string        `yaml:"apiKey"`
			Timeout  time.Duration `yaml:"timeout"`
		}

		Queue struct {
			Capacity int
			Overflow string
			PushWait time.Duration `yaml:"pushWait"`
		}

		Dedup struct {
			Capacity int
			Ttl      time.Duration
		}

		Actors struct {
			CacheSize int           `yaml:"cacheSize"`
			CacheTtl  time.Duration `yaml:"cacheTtl"`
		}

		Signature struct {
			MaxSkew time.Duration `yaml:"maxSkew"`
		}

		RateLimit struct {
			Rps   float64
			Burst int
		} `yaml:"rateLimit"`

		Retry struct {
			Translation retry.Policy
			Delivery    retry.Policy
			Accept      retry.Policy
		}
	}
}

// ReadConf loads the embedded defaults, overlays the config file and then
// the TRANSLATEBOT_* environment. An empty path resolves config.yaml in
// the working directory or the user config dir; when neither exists the
// defaults are written to the user config dir.
func ReadConf(path string) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(embeddedConfig, c); err != nil {
		return nil, fmt.Errorf("in embedded config: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = ResolveFilePath(ConfigFileName)
	}

	buf, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(buf, c); err != nil {
			return nil, fmt.Errorf("in config file %s: %w", path, err)
		}
	case explicit:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		log.Info("Config file not found, using embedded defaults", "path", path)
		writeDefaultConfig()
	}

	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return c, nil
}

func writeDefaultConfig() {
	configDir, err := GetConfigDir()
	if err != nil {
		return
	}
	userConfigPath := configDir + "/" + ConfigFileName
	if _, err := os.Stat(userConfigPath); err == nil {
		return
	}
	if err := os.WriteFile(userConfigPath, embeddedConfig, 0644); err != nil {
		log.Warn("Could not write default config", "path", userConfigPath, "err", err)
		return
	}
	log.Info("Created default config file", "path", userConfigPath)
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"HOST":               &c.Conf.Host,
		"SSLDOMAIN":          &c.Conf.SslDomain,
		"BOT_USERNAME":       &c.Conf.BotUsername,
		"TARGET_LANGUAGE":    &c.Conf.TargetLanguage,
		"DATABASE_PATH":      &c.Conf.DatabasePath,
		"PRIVATE_KEY_PATH":   &c.Conf.PrivateKeyPath,
		"PUBLIC_KEY_PATH":    &c.Conf.PublicKeyPath,
		"LOG_LEVEL":          &c.Conf.LogLevel,
		"TRANSLATE_ENDPOINT": &c.Conf.Translate.Endpoint,
		"TRANSLATE_API_KEY":  &c.Conf.Translate.ApiKey,
		"QUEUE_OVERFLOW":     &c.Conf.Queue.Overflow,
	}
	for name, dst := range strs {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HTTPPORT":       &c.Conf.HttpPort,
		"WORKERS":        &c.Conf.Workers,
		"QUEUE_CAPACITY": &c.Conf.Queue.Capacity,
	}
	for name, dst := range ints {
		v := getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v := getenv(EnvPrefix + "LOG_COLOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_COLOR: %w", EnvPrefix, err)
		}
		c.Conf.LogColor = b
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Conf.SslDomain) == "" {
		errs = append(errs, errors.New("sslDomain is required"))
	}
	if strings.TrimSpace(c.Conf.BotUsername) == "" {
		errs = append(errs, errors.New("botUsername is required"))
	}
	if c.Conf.TargetLanguage == "" {
		errs = append(errs, errors.New("targetLanguage is required"))
	} else if _, err := language.Parse(c.Conf.TargetLanguage); err != nil {
		errs = append(errs, fmt.Errorf("targetLanguage %q: %w", c.Conf.TargetLanguage, err))
	}
	if c.Conf.Translate.ApiKey == "" {
		errs = append(errs, errors.New("translate.apiKey is required"))
	}
	if c.Conf.HttpPort < 1 || c.Conf.HttpPort > 65535 {
		errs = append(errs, fmt.Errorf("httpPort %d out of range", c.Conf.HttpPort))
	}
	if c.Conf.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.Conf.Queue.Capacity < 1 {
		errs = append(errs, errors.New("queue.capacity must be at least 1"))
	}
	if _, err := queue.ParseOverflowPolicy(c.Conf.Queue.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("queue.overflow: %w", err))
	}
	if _, err := log.ParseLevel(c.Conf.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("logLevel: %w", err))
	}
	return errors.Join(errs...)
}

// OverflowPolicy returns the parsed queue overflow policy. Call Validate first.
func (c *AppConfig) OverflowPolicy() queue.OverflowPolicy {
	p, _ := queue.ParseOverflowPolicy(c.Conf.Queue.Overflow)
	return p
}

// YAML renders the effective configuration with the api key masked.
func (c *AppConfig) YAML() (string, error) {
	masked := *c
	if masked.Conf.Translate.ApiKey != "" {
		masked.Conf.Translate.ApiKey = "********"
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
