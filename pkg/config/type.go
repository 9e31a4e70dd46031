package config

type MonitorConfig struct {
	SerialDevice  string `toml:"serial_device"`
	Baudrate      uint   `toml:"baudrate"`
	StopBits      uint   `toml:"stop_bits"`
	DataDir       string `toml:"data_dir"`
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
	LogLevel      string `toml:"log_level"`
}

type CollectorConfig struct {
	MonitorHost  string `toml:"monitor_host"`
	DatabasePath string `toml:"database_path"`
	LogLevel     string `toml:"log_level"`
}
