package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/bsmeter/internal/model"
)

const version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bsmeter",
	Short: "bsmeter - argument analysis for text fragments",
	Long: `bsmeter sends a text fragment to a language model and reports a verdict,
an explanation, counter-arguments and logical fallacies.

Providers are tried in priority order; if one fails the next is used.
Every analysis is stored under a fingerprint of the text and the attitude,
so asking twice returns the stored answer without a second call.

Attitudes:
  argumentative  challenge the claim as hard as possible
  balanced       weigh the claim fairly (default)
  helpful        explain the claim charitably, flag only clear problems`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bsmeter v%s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.bsmeter/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in .env, the config file and BSMETER_* variables
func initConfig() {
	// a missing .env is normal
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(home + "/.bsmeter")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	setDefaults(viper.GetViper(), model.DefaultConfig())

	// BSMETER_STORE_DRIVER overrides store.driver
	viper.SetEnvPrefix("BSMETER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setDefaults registers every scalar key so environment overrides reach Unmarshal.
// Providers are a list and are defaulted in decodeConfig instead.
func setDefaults(v *viper.Viper, d model.Config) {
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.hot_cache", d.Store.HotCache)

	v.SetDefault("analysis.default_attitude", d.Analysis.DefaultAttitude)
	v.SetDefault("analysis.deadline", d.Analysis.Deadline)
	v.SetDefault("analysis.workers", d.Analysis.Workers)

	v.SetDefault("capture.max_bytes", d.Capture.MaxBytes)
	v.SetDefault("capture.fetch_timeout", d.Capture.FetchTimeout)
	v.SetDefault("capture.respect_robots", d.Capture.RespectRobots)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("export.endpoint", d.Export.Endpoint)
	v.SetDefault("export.bucket", d.Export.Bucket)
	v.SetDefault("export.access_key", d.Export.AccessKey)
	v.SetDefault("export.secret_key", d.Export.SecretKey)
	v.SetDefault("export.region", d.Export.Region)
	v.SetDefault("export.use_ssl", d.Export.UseSSL)
}

// loadConfig decodes the active viper state into a Config
func loadConfig() (*model.Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*model.Config, error) {
	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = model.DefaultConfig().Providers
	}
	applyEnvCredentials(&cfg, os.Getenv)
	if v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	return &cfg, nil
}

// applyEnvCredentials fills provider credentials the config file left empty
// from the vendors' usual environment variables
func applyEnvCredentials(cfg *model.Config, getenv func(string) string) {
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]
		switch pc.Type {
		case "openai":
			if pc.APIKey == "" {
				pc.APIKey = getenv("OPENAI_API_KEY")
			}
		case "anthropic":
			if pc.APIKey == "" {
				pc.APIKey = getenv("ANTHROPIC_API_KEY")
			}
		case "gemini":
			if pc.APIKey == "" {
				pc.APIKey = getenv("GEMINI_API_KEY")
			}
			if pc.APIKey == "" {
				pc.APIKey = getenv("GOOGLE_API_KEY")
			}
		case "ollama":
			if u := getenv("OLLAMA_BASE_URL"); u != "" {
				pc.BaseURL = u
			}
		}
	}
}
