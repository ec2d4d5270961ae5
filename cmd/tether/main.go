package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"tether/internal/backends"
	"tether/internal/config"
	"tether/internal/ports"
	"tether/internal/pub"
	"tether/internal/session"
	"tether/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	ExitCodeSuccess      = 0
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
)

var (
	configPath string
	logLevel   string

	cfg types.Config
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Authenticated requests and a resilient event channel for one backend",
	Long: `tether talks to an HTTP API with bearer credentials that it refreshes
on demand, and keeps a websocket event channel open across network failures.

Credentials are kept in the backend named by CREDENTIAL_BACKEND
(memory, file, redis or ddb; file by default).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return config.SetupLogging(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or TETHER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level")

	rootCmd.AddCommand(loginCmd, callCmd, listenCmd, tokenCmd, journalCmd, mockServerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, types.ErrSessionInvalid) || errors.Is(err, types.ErrNoCredential) {
		return ExitCodeAuthRequired
	}
	return ExitCodeError
}

// openSession builds the credential store from the environment and wires a
// session around it.
func openSession(ctx context.Context) (*session.Session, error) {
	store, err := backends.CredentialBackendFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	var publisher ports.Publisher
	if cfg.TeardownSNSArn != "" {
		publisher, err = snsPublisherFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("sns publisher: %w", err)
		}
	}
	return session.New(cfg, store, session.Options{Publisher: publisher}), nil
}

// snsPublisherFromEnv creates the teardown publisher. SNS_ENDPOINT points it
// at a local emulator.
func snsPublisherFromEnv(ctx context.Context) (ports.Publisher, error) {
	var snsEndpoint *string
	if se := os.Getenv("SNS_ENDPOINT"); se != "" {
		snsEndpoint = aws.String(se)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if snsEndpoint != nil {
			o.BaseEndpoint = snsEndpoint
			if o.Region == "" {
				o.Region = "us-east-1"
			}
			o.Credentials = credentials.NewStaticCredentialsProvider("test", "test", "")
		}
	})
	log.WithField("topic", cfg.TeardownSNSArn).Debug("teardown events will be published")
	return pub.NewSNS(snsClient), nil
}
