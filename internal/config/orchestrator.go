package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// OrchestratorConfig holds the tunables of the instance lifecycle
// orchestrator. It is hot-reloadable so deploy timeouts and sweep
// thresholds can be adjusted without a restart.
type OrchestratorConfig struct {
	PortBase        int           `mapstructure:"portBase"`
	ContainerPrefix string        `mapstructure:"containerPrefix"`
	DomainSuffix    string        `mapstructure:"domainSuffix"`
	DefaultFeature  string        `mapstructure:"defaultFeature"`
	DeployTimeout   time.Duration `mapstructure:"deployTimeout"`
	CommandTimeout  time.Duration `mapstructure:"commandTimeout"`
	ProbeTimeout    time.Duration `mapstructure:"probeTimeout"`
	SweepThreshold  time.Duration `mapstructure:"sweepThreshold"`
	SweepInterval   time.Duration `mapstructure:"sweepInterval"`
	ExpiryInterval  time.Duration `mapstructure:"expiryInterval"`
	WorkerCount     int           `mapstructure:"workerCount"`
	QueueSize       int           `mapstructure:"queueSize"`
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		PortBase:        8070,
		ContainerPrefix: "app_",
		DomainSuffix:    ".nimbushost.app",
		DefaultFeature:  "base",
		DeployTimeout:   10 * time.Minute,
		CommandTimeout:  2 * time.Minute,
		ProbeTimeout:    2 * time.Second,
		SweepThreshold:  30 * time.Minute,
		SweepInterval:   5 * time.Minute,
		ExpiryInterval:  time.Hour,
		WorkerCount:     4,
		QueueSize:       64,
	}
}

// OrchestratorHolder stores the current orchestrator config and swaps
// it atomically on file change.
type OrchestratorHolder struct {
	current atomic.Value // holds OrchestratorConfig
}

func NewOrchestratorHolder() (*OrchestratorHolder, error) {
	v := viper.New()

	v.SetConfigName("orchestrator")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fleet")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultOrchestratorConfig()
	v.SetDefault("orchestrator.portBase", defaults.PortBase)
	v.SetDefault("orchestrator.containerPrefix", defaults.ContainerPrefix)
	v.SetDefault("orchestrator.domainSuffix", defaults.DomainSuffix)
	v.SetDefault("orchestrator.defaultFeature", defaults.DefaultFeature)
	v.SetDefault("orchestrator.deployTimeout", defaults.DeployTimeout)
	v.SetDefault("orchestrator.commandTimeout", defaults.CommandTimeout)
	v.SetDefault("orchestrator.probeTimeout", defaults.ProbeTimeout)
	v.SetDefault("orchestrator.sweepThreshold", defaults.SweepThreshold)
	v.SetDefault("orchestrator.sweepInterval", defaults.SweepInterval)
	v.SetDefault("orchestrator.expiryInterval", defaults.ExpiryInterval)
	v.SetDefault("orchestrator.workerCount", defaults.WorkerCount)
	v.SetDefault("orchestrator.queueSize", defaults.QueueSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg OrchestratorConfig
	if err := v.UnmarshalKey("orchestrator", &cfg); err != nil {
		return nil, err
	}
	if err := validateOrchestratorConfig(cfg); err != nil {
		return nil, err
	}

	holder := &OrchestratorHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated OrchestratorConfig
		if err := v.UnmarshalKey("orchestrator", &updated); err != nil {
			log.Printf("[orchestrator-config] reload failed: %v", err)
			return
		}
		if err := validateOrchestratorConfig(updated); err != nil {
			log.Printf("[orchestrator-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[orchestrator-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticOrchestratorHolder wraps a fixed config, for tests.
func NewStaticOrchestratorHolder(cfg OrchestratorConfig) *OrchestratorHolder {
	holder := &OrchestratorHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *OrchestratorHolder) Get() OrchestratorConfig {
	return h.current.Load().(OrchestratorConfig)
}

func validateOrchestratorConfig(cfg OrchestratorConfig) error {
	if cfg.PortBase <= 0 || cfg.PortBase > 65535 {
		return errors.New("orchestrator.portBase must be a valid port")
	}
	if cfg.DeployTimeout <= 0 {
		return errors.New("orchestrator.deployTimeout must be positive")
	}
	if cfg.SweepThreshold <= 0 {
		return errors.New("orchestrator.sweepThreshold must be positive")
	}
	if cfg.WorkerCount <= 0 {
		return errors.New("orchestrator.workerCount must be positive")
	}
	return nil
}
