package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtspgw"
)

// CLI configuration
type CLIConfig struct {
	configPath string
	listenAddr string
	logLevel   string
	help       bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	config := &CLIConfig{}

	fs.StringVar(&config.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&config.listenAddr, "listen", "", "UDP listen address, overrides the configuration file")
	fs.StringVar(&config.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

// loadOptions builds gateway options from the file and flag overrides.
func loadOptions(config *CLIConfig) (*rtspgw.Options, error) {
	options := rtspgw.NewOptions()
	if config.configPath != "" {
		loaded, err := rtspgw.LoadOptions(config.configPath)
		if err != nil {
			return nil, err
		}
		options = loaded
	}

	if config.listenAddr != "" {
		options.ListenAddr = config.listenAddr
	}
	if config.logLevel != "" {
		options.LogLevel = config.logLevel
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}
	return options, nil
}

// openSessions opens every configured session, stopping at the first failure.
func openSessions(g *rtspgw.Gateway, sessions []rtspgw.SessionOptions) error {
	for _, s := range sessions {
		config, err := s.Config()
		if err != nil {
			return err
		}
		if _, err := g.OpenSession(config); err != nil {
			return fmt.Errorf("open session %q: %w", s.ID, err)
		}
	}
	return nil
}

func run(ctx context.Context, options *rtspgw.Options) error {
	g, err := rtspgw.New(options)
	if err != nil {
		return err
	}
	if err := g.Start(); err != nil {
		return err
	}
	defer g.Close()

	if err := openSessions(g, options.Sessions); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"listen":   g.LocalAddr().String(),
		"sessions": g.SessionCount(),
	}).Info("Gateway running")

	<-ctx.Done()

	logrus.WithFields(logrus.Fields{
		"function": "run",
	}).Info("Shutting down")
	return nil
}

func main() {
	cliConfig, err := parseCLIFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cliConfig.help {
		flag.Usage()
		os.Exit(0)
	}

	options, err := loadOptions(cliConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(options.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Gateway failed")
		os.Exit(1)
	}
}
