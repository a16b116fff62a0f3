package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var eventPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/ferry/config.yml)")
	flag.StringVar(&eventPath, "event", "", "run a single invocation with the trigger event in this file and exit")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Ferry - Log Forwarder\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if eventPath != "" {
		if err := runOnce(cfg, eventPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runOnce processes one trigger event and prints the result as JSON.
func runOnce(cfg appConfig, eventPath string) error {
	raw, err := os.ReadFile(eventPath)
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.InvokeTimeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, invokeErr := rt.handler.Invoke(ctx, raw)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return invokeErr
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "ferry")

	v := viper.New()
	v.SetEnvPrefix("FERRY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("inputs", "")
	v.SetDefault("db-path", filepath.Join(dataDir, "ferry.duckdb"))
	v.SetDefault("log-stderr", false)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("log-retention", defaultLogRetention)
	v.SetDefault("chunk-size", defaultChunkSize)
	v.SetDefault("grace-period", defaultGracePeriod)
	v.SetDefault("invoke-timeout", defaultInvokeTimeout)
	v.SetDefault("aws-region", "")
	v.SetDefault("s3-endpoint", "")
	v.SetDefault("s3-use-path-style", false)
	v.SetDefault("aws-access-key", "")
	v.SetDefault("aws-secret-key", "")
	v.SetDefault("aws-session-token", "")
	v.SetDefault("sqs-endpoint", "")
	v.SetDefault("continuation-queue-url", "")
	v.SetDefault("journal-path", filepath.Join(dataDir, "continuations.jsonl"))
	v.SetDefault("continuation-interval", defaultContinuationInterval)
	v.SetDefault("replay-queue-url", "")
	v.SetDefault("secret-env-prefix", defaultSecretEnvPrefix)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-bucket-url", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "ferry", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.InvokeTimeout <= cfg.GracePeriod {
		return cfg, fmt.Errorf("invoke-timeout %s must exceed grace-period %s", cfg.InvokeTimeout, cfg.GracePeriod)
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.JournalPath = expandHome(home, cfg.JournalPath)
	cfg.InputsPath = expandHome(home, cfg.InputsPath)
	cfg.BackupLocalDir = expandHome(home, cfg.BackupLocalDir)

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
