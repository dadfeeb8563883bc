package cmd

import (
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/ocr/tesseract"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the installed tesseract languages and check the configured ones",
	Run: func(_ *cobra.Command, _ []string) {
		languages()
	},
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}

func languages() {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	available, err := tesseract.AvailableLanguages()
	if err != nil {
		logger.Fatal("listing tesseract languages", zap.Error(err))
	}
	slices.Sort(available)

	configured := viper.GetStringSlice("ocr.languages")
	var missing []string
	for _, lang := range configured {
		if !slices.Contains(available, lang) {
			missing = append(missing, lang)
		}
	}

	fmt.Printf("available: %s\n", strings.Join(available, ", "))
	fmt.Printf("configured: %s\n", strings.Join(configured, ", "))

	if len(missing) > 0 {
		logger.Fatal("configured languages are not installed",
			zap.Strings("missing", missing),
			zap.String("hint", "install the tesseract trained data or change ocr.languages"),
		)
	}
}
