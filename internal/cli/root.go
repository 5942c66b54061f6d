package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"ragchat/config"
	"ragchat/internal/logging"
)

var (
	cfgFile string
	envFile string
	owner   string
	cfg     *config.Config
	rootDir string
	log     *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "ragchat - Self-hosted chat over your own documents",
	Long: `ragchat ingests PDF and text documents into an embedded vector index and
answers questions about them through an external chat completion API, citing
the passages it used.

Example usage:
  ragchat serve                          # Run the HTTP API and OpenAI-compatible proxy
  ragchat ingest ./handbook              # Ingest every supported file under a directory
  ragchat ask "what is the refund policy?"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if err := loadEnv(envFile); err != nil {
			return err
		}

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log = logging.New(cfg.Logging)
		return nil
	},
}

// loadEnv reads KEY=value pairs into the environment without overriding
// variables that are already set. Only an explicit file must exist.
func loadEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ragchat.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with API keys (default is ./.env if present)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "directory to look for config in (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "owner recorded on new documents and collections, and used to filter listings")
}

func GetConfig() *config.Config {
	return cfg
}
