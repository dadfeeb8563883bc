package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/intake"
	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/report"
)

var extractCmd = &cobra.Command{
	Use:   "extract [files...]",
	Short: "Run the extraction pipeline only and print what would be sent to the agent",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		extract(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", outputMarkdown, "report format: json or markdown")
	extractCmd.Flags().String("report-file", "", "write the report to a file instead of stdout")
}

func extract(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	output, _ := cmd.Flags().GetString("output")
	reportFile, _ := cmd.Flags().GetString("report-file")

	uploads, err := readUploads(args, defaultUser())
	if err != nil {
		logger.Fatal("reading files", zap.Error(err))
	}

	intakeCfg, steps := intakeSettings(config.Intake)
	if err := logIntake(logger, intakeCfg, steps); err != nil {
		logger.Fatal("checking the intake configuration", zap.Error(err))
	}
	uploads, err = intake.Run(ctx, intakeCfg, intake.Deps{Logger: logger}, steps, uploads)
	if err != nil {
		logger.Fatal("checking files", zap.Error(err))
	}
	if len(uploads) == 0 {
		logger.Fatal("nothing to extract", zap.Error(&document.EmptyBatchError{}))
	}

	pipeline, engine, err := newPipeline(config, logger)
	if err != nil {
		logger.Fatal("building the extraction pipeline", zap.Error(err))
	}
	defer engine.Close()

	results, err := pipeline.Process(ctx, uploads)
	if err != nil {
		logger.Fatal("extracting documents", zap.Error(err))
	}

	batch := &document.Batch{ID: document.ResolveBatchID(""), UserID: defaultUser(), Results: results}
	rep := report.New(batch, true)
	if output == outputText {
		output = outputMarkdown
	}
	if err := writeReport(rep, output, reportFile); err != nil {
		logger.Fatal("writing the report", zap.Error(err))
	}
}
