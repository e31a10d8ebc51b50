package config

import "flag"

var (
	flagConfig = flag.String("config", "", "Path to config file")
	flagDebug  = flag.Bool("debug", false, "Enable debug logging")
	flagAddr   = flag.String("addr", "", "HTTP listen address")
	flagRoot   = flag.String("root", "", "Asset root directory")
	flagLog    = flag.String("log", "", "Log file path")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagAddr != "" {
		cfg.Server.Addr = *flagAddr
	}
	if *flagRoot != "" {
		cfg.Assets.Root = *flagRoot
	}
	if *flagLog != "" {
		cfg.Logging.LogFile = *flagLog
	}
}
