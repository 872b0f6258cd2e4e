package main

import (
	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "chillctl",
	Short:         "chillctl manages a Chillspot deployment",
	Long:          "chillctl seeds the document store and helps with credentials outside the API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads the same environment as the server.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg)
	if err := config.ResolveSecrets(cmd.Context(), cfg, config.AWSSecretFetcher(cfg.AWS), logger); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func main() {
	rootCmd.AddCommand(newSeedCmd(), newHashPasswordCmd(), newIssueTokenCmd())
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
