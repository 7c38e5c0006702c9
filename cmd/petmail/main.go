// Command petmail runs the pet-health inbound email service and its
// operator tasks.
package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/pet-mail-ingest/internal/config"
	"github.com/tbourn/pet-mail-ingest/internal/sysutil"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	envFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:           "petmail",
	Short:         "Inbound email ingestion for pet health records",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		sysutil.InitLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("petmail version %s\n", sysutil.FirstNonEmpty(Version, os.Getenv("SERVICE_VERSION"), "dev"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("petmail failed")
		os.Exit(1)
	}
}
