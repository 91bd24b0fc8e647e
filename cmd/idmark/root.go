package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"idmark/internal/config"
	"idmark/internal/services"
)

type rootOptions struct {
	configPath  string
	concurrency int
	logLevel    string
	noWait      bool
	history     int
	initConfig  string
	testNotify  bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "idmark [files...]",
		Short:         "Watermark images, GIFs, and videos",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case strings.TrimSpace(opts.initConfig) != "":
				return runInitConfig(cmd, opts.initConfig)
			case opts.history > 0:
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				return runHistory(cmd, cfg, opts.history)
			case opts.testNotify:
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				return runTestNotify(cmd, cfg)
			case len(args) == 0:
				_ = cmd.Help()
				return errors.New("no input files given")
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runBatch(cmd, cfg, opts, args)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	flags.IntVarP(&opts.concurrency, "concurrency", "j", 0, "Maximum concurrent jobs (overrides pool.max_concurrency)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&opts.noWait, "no-wait", false, "Exit without waiting for Enter")
	flags.IntVar(&opts.history, "history", 0, "Print the last N runs and exit")
	flags.StringVar(&opts.initConfig, "init-config", "", "Write a sample configuration to PATH and exit")
	flags.BoolVar(&opts.testNotify, "test-notify", false, "Send a test notification and exit")

	return rootCmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, _, _, err := config.Load(strings.TrimSpace(opts.configPath))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "load config", "", err)
	}
	if opts.concurrency > 0 {
		cfg.Pool.MaxConcurrency = opts.concurrency
	}
	if level := strings.TrimSpace(opts.logLevel); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	return cfg, nil
}

func runInitConfig(cmd *cobra.Command, target string) error {
	expanded, err := config.ExpandPath(strings.TrimSpace(target))
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("check config path: %w", err)
	}
	if err := config.CreateSample(expanded); err != nil {
		return fmt.Errorf("create sample config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", expanded)
	return nil
}
