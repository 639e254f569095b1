package cli

import (
	"github.com/recall-labs/mnemo/internal/config"
	"github.com/recall-labs/mnemo/internal/logger"
	"github.com/recall-labs/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Mnemo - hybrid memory engine for assistant recall",
	Long: `Mnemo stores fragments of a user's activity (conversations, journal
entries, todos, decisions) and recalls them by fusing BM25 keyword
relevance with semantic vector similarity.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mnemo/mnemo.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// openStore loads configuration and constructs the memory store; the store
// initializes lazily on first use.
func openStore() (*memory.Store, *config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, nil, nil, err
	}

	lg, err := logger.New(logger.Config{
		Level:     logLevel,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	memCfg := cfg.MemoryConfig()
	memCfg.Logger = lg.GetZerolog()
	store, err := memory.New(memCfg)
	if err != nil {
		lg.Close()
		return nil, nil, nil, err
	}
	return store, cfg, lg, nil
}
