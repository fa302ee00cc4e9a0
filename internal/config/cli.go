package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseFlags parses command line flags and returns the config file path
func ParseFlags() (configFile string, generateConfig bool, err error) {
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.BoolVar(&generateConfig, "generate-config", false, "Print the default configuration as YAML")

	help := flag.Bool("help", false, "Show help")

	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	if generateConfig {
		return "", true, nil
	}

	return configFile, false, nil
}

// GenerateExampleConfig prints the default configuration as YAML
func GenerateExampleConfig() error {
	out, err := yaml.Marshal(getDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	fmt.Println("# Every value can be overridden by the environment variable in its env tag,")
	fmt.Println("# e.g. SERVER_PORT, PERSISTENCE_BACKEND, SESSIONS_RETENTION.")
	fmt.Print(string(out))
	return nil
}
