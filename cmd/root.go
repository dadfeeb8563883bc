package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "cv-ranker"
)

type Config struct {
	OCR        *OCRConfig        `mapstructure:"ocr"`
	Normalize  *NormalizeConfig  `mapstructure:"normalize"`
	Extraction *ExtractionConfig `mapstructure:"extraction"`
	Intake     *IntakeConfig     `mapstructure:"intake"`
	AI         *AIConfig         `mapstructure:"ai"`
	History    *HistoryConfig    `mapstructure:"history"`
	Archive    *ArchiveConfig    `mapstructure:"archive"`
}

type OCRConfig struct {
	Languages      []string `mapstructure:"languages"`
	MinConfidence  float64  `mapstructure:"min-confidence"`
	PoolSize       int      `mapstructure:"pool-size"`
	TessdataPrefix string   `mapstructure:"tessdata-prefix"`
	PageSegMode    int      `mapstructure:"page-seg-mode"`
}

type NormalizeConfig struct {
	MinWidth int `mapstructure:"min-width"`
}

type ExtractionConfig struct {
	MaxFailedFraction   float64 `mapstructure:"max-failed-fraction"`
	DocumentConcurrency int     `mapstructure:"document-concurrency"`
	PageConcurrency     int     `mapstructure:"page-concurrency"`
}

type IntakeConfig struct {
	MaxDocuments int      `mapstructure:"max-documents"`
	MaxFileSize  int64    `mapstructure:"max-file-size"`
	Disabled     []string `mapstructure:"disabled"`
	Enabled      []string `mapstructure:"enabled"`
}

type AIConfig struct {
	Provider         string        `mapstructure:"provider"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Language         string        `mapstructure:"language"`
	ExtraCriteria    string        `mapstructure:"extra-criteria"`
	UserInstructions string        `mapstructure:"user-instructions"`
	Gemini           *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	Backend      string   `mapstructure:"backend"`
	APIKeyFile   string   `mapstructure:"api-key-file"`
	APIKey       string   `mapstructure:"api-key"`
	Project      string   `mapstructure:"project"`
	Location     string   `mapstructure:"location"`
	Model        string   `mapstructure:"model"`
	MaxRetries   int      `mapstructure:"max-retries"`
	MaxLogLength int      `mapstructure:"max-log-length"`
	Temperature  *float32 `mapstructure:"temperature"`
}

type HistoryConfig struct {
	// Backend is one of sqlite, firestore or none.
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	Project    string `mapstructure:"project"`
	Collection string `mapstructure:"collection"`
}

type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "cv-ranker extracts text from résumés and asks Gemini to compare or summarize them in one request",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	setDefaults()

	viper.SetEnvPrefix("CV_RANKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("ai.gemini.api-key", "GEMINI_API_KEY"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is cv-ranker.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("ocr.languages", []string{"eng", "por"})
	viper.SetDefault("ocr.min-confidence", 0.4)
	viper.SetDefault("ocr.pool-size", 2)
	viper.SetDefault("ocr.tessdata-prefix", "")
	viper.SetDefault("ocr.page-seg-mode", 0)

	viper.SetDefault("normalize.min-width", 1200)

	viper.SetDefault("extraction.max-failed-fraction", 1.0)
	viper.SetDefault("extraction.document-concurrency", 4)
	viper.SetDefault("extraction.page-concurrency", 4)

	viper.SetDefault("intake.max-documents", 20)
	viper.SetDefault("intake.max-file-size", 20<<20)
	viper.SetDefault("intake.disabled", []string{})
	viper.SetDefault("intake.enabled", []string{})

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.timeout", 2*time.Minute)
	viper.SetDefault("ai.language", "")
	viper.SetDefault("ai.extra-criteria", "")
	viper.SetDefault("ai.user-instructions", "")
	viper.SetDefault("ai.gemini.backend", "gemini")
	viper.SetDefault("ai.gemini.api-key-file", "")
	viper.SetDefault("ai.gemini.api-key", "")
	viper.SetDefault("ai.gemini.project", "")
	viper.SetDefault("ai.gemini.location", "")
	viper.SetDefault("ai.gemini.model", "gemini-2.5-pro")
	viper.SetDefault("ai.gemini.max-retries", 3)
	viper.SetDefault("ai.gemini.max-log-length", 200)

	viper.SetDefault("history.backend", "sqlite")
	viper.SetDefault("history.dir", "")
	viper.SetDefault("history.project", "")
	viper.SetDefault("history.collection", "requests")

	viper.SetDefault("archive.bucket", "")
	viper.SetDefault("archive.prefix", "fallbacks")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// Every setting has a default, so only an explicit or broken config file is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
