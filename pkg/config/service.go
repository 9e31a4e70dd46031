package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/oxygen_monitor/pkg/pathing"
	"github.com/sirupsen/logrus"
)

var (
	ActiveMonitorConfig   *MonitorConfig
	ActiveCollectorConfig *CollectorConfig
)

func DefaultMonitorConfigPath() string {
	return filepath.Join(pathing.GetConfigDir(), "oxygen_monitor.toml")
}

func DefaultCollectorConfigPath() string {
	return filepath.Join(pathing.GetConfigDir(), "oxygen_collector.toml")
}

func defaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		SerialDevice:  "/dev/ttyUSB0",
		Baudrate:      9600,
		StopBits:      2,
		DataDir:       pathing.GetDataDir(),
		ListenAddress: "0.0.0.0",
		ListenPort:    9040,
		LogLevel:      "info",
	}
}

func defaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		MonitorHost:  "localhost:9040",
		DatabasePath: pathing.GetCollectorDbPath(),
		LogLevel:     "info",
	}
}

// LoadMonitorConfig reads configPath, writing the defaults there first if it doesn't exist.
func LoadMonitorConfig(configPath string) error {
	cfg := defaultMonitorConfig()
	if err := loadOrCreate(configPath, cfg); err != nil {
		return err
	}
	ActiveMonitorConfig = cfg
	return nil
}

func LoadCollectorConfig(configPath string) error {
	cfg := defaultCollectorConfig()
	if err := loadOrCreate(configPath, cfg); err != nil {
		return err
	}
	ActiveCollectorConfig = cfg
	return nil
}

// Fields missing from an existing file keep the defaults already in cfg.
func loadOrCreate(configPath string, cfg any) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := pathing.EnsureDir(filepath.Dir(configPath)); err != nil {
			return err
		}
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		return toml.NewEncoder(cfgFile).Encode(cfg)
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", configPath, err)
	}
	return nil
}

// ApplyLogLevel sets the standard logrus logger level, falling back to info.
func ApplyLogLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).Warn("Unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
