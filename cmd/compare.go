package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/extraction"
	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/ranker"
	"github.com/spigell/cv-ranker/internal/report"
)

const (
	PromptYes               = "Yes"
	PromptNo                = "No"
	PromptExtractionReport  = "Show extraction report"
	PromptExtractedToFile   = "Dump extracted text to file"
	outputText              = "text"
	outputJSON              = "json"
	outputMarkdown          = "markdown"
	extractedTextFilePrefix = "cv-ranker-extracted-"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Send the batch to the agent?",
	Items: []string{PromptYes, PromptNo, PromptExtractionReport, PromptExtractedToFile},
}

var compareCmd = &cobra.Command{
	Use:   "compare [files...]",
	Short: "Compare résumés against a query, or summarize them when no query is given",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		compare(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().StringP("query", "q", "", "role or criteria to compare against, empty for summaries")
	compareCmd.Flags().String("request-id", "", "request id, a UUID or any string (a random id is used when empty)")
	compareCmd.Flags().StringP("user", "u", defaultUser(), "user id recorded in history")
	compareCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before sending the batch")
	compareCmd.Flags().StringP("output", "o", outputText, "report format: text, json or markdown")
	compareCmd.Flags().String("report-file", "", "write the report to a file instead of stdout")
	compareCmd.Flags().Bool("with-text", false, "include extracted texts in json and markdown reports")
}

// compare is the main command for the cli.
func compare(cmd *cobra.Command, args []string) {
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
	if config == nil {
		logger.Fatal("config is required")
	}

	logger.Info("starting the cv-ranker", zap.String("version", version))

	flags := cmd.Flags()
	query, _ := flags.GetString("query")
	requestID, _ := flags.GetString("request-id")
	userID, _ := flags.GetString("user")
	autoApprove, _ := flags.GetBool("auto-approve")
	output, _ := flags.GetString("output")
	reportFile, _ := flags.GetString("report-file")
	withText, _ := flags.GetBool("with-text")

	uploads, err := readUploads(args, userID)
	if err != nil {
		logger.Fatal("reading files", zap.Error(err))
	}

	dispatcher, err := newDispatcher(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal(
			"building the ai client",
			zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY_FILE or GEMINI_API_KEY, or the 'ai.gemini' keys in the configuration file"),
		)
	}

	pipeline, engine, err := newPipeline(config, logger)
	if err != nil {
		logger.Fatal("building the extraction pipeline", zap.Error(err))
	}
	defer engine.Close()

	recorder, err := newRecorder(ctx, config.History, logger)
	if err != nil {
		logger.Fatal("opening history", zap.Error(err))
	}
	defer recorder.Close()

	intakeCfg, steps := intakeSettings(config.Intake)
	if err := logIntake(logger, intakeCfg, steps); err != nil {
		logger.Fatal("checking the intake configuration", zap.Error(err))
	}
	opts := []ranker.Option{ranker.WithRecorder(recorder), ranker.WithIntake(intakeCfg, steps)}
	if withText {
		opts = append(opts, ranker.WithExtractedText())
	}

	archive, err := newArchive(ctx, config.Archive, logger)
	if err != nil {
		logger.Warn("archiving of fallback originals is disabled", zap.Error(err))
	}
	if archive != nil {
		defer archive.Close()
		opts = append(opts, ranker.WithArchiver(archive))
	}

	r, err := ranker.New(pipeline, dispatcher, logger, opts...)
	if err != nil {
		logger.Fatal("building the ranker", zap.Error(err))
	}

	req := ranker.Request{RequestID: requestID, UserID: userID, Query: query, Uploads: uploads}

	if autoApprove {
		rep, err := r.Rank(ctx, req)
		if err != nil {
			logger.Fatal("ranking failed", zap.Error(err))
		}
		if err := writeReport(rep, output, reportFile); err != nil {
			logger.Fatal("writing the report", zap.Error(err))
		}
		return
	}

	batch, err := prepareBatch(ctx, r, req)
	if err != nil {
		logger.Fatal("preparing the batch", zap.Error(err))
	}

	for _, res := range batch.Results {
		logger.Info("document", zap.String("filename", res.Source().Filename), zap.String("path", extraction.Describe(res)))
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if err := handleAction(ctx, action, r, batch, output, reportFile, logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

// prepareBatch records a failed preparation in history before returning the error.
func prepareBatch(ctx context.Context, r *ranker.Ranker, req ranker.Request) (*document.Batch, error) {
	req.RequestID = document.ResolveBatchID(req.RequestID)
	batch, err := r.Prepare(ctx, req)
	if err != nil {
		r.RecordFailure(ctx, req, err)
		return nil, err
	}
	return batch, nil
}

func handleAction(ctx context.Context, action string, r *ranker.Ranker, batch *document.Batch, output, reportFile string, logger *zap.Logger) error {
	switch action {
	case PromptYes:
		rep, err := r.Compare(ctx, batch)
		if err != nil {
			return err
		}
		if err := writeReport(rep, output, reportFile); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		return errExit
	case PromptNo:
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptExtractionReport:
		_, err := report.NewMarkdownWriter(os.Stdout).Write(report.New(batch, false))
		return err
	case PromptExtractedToFile:
		filename, err := dumpExtracted(batch)
		if err != nil {
			return fmt.Errorf("dump extracted text to file: %w", err)
		}
		logger.Info("dumping extracted text to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func dumpExtracted(batch *document.Batch) (string, error) {
	f, err := os.CreateTemp("", extractedTextFilePrefix+"*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := report.NewJSONWriter(f, report.WithPrettyPrint()).Write(report.New(batch, true)); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// writeReport prints the report in the requested format, to reportFile when it is set.
func writeReport(rep *report.Report, format, reportFile string) error {
	var out io.Writer = os.Stdout
	if reportFile != "" {
		f, err := os.Create(reportFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	var w report.Writer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", outputText:
		_, err := fmt.Fprintln(out, rep.Result)
		return err
	case outputJSON:
		w = report.NewJSONWriter(out, report.WithPrettyPrint())
	case outputMarkdown, "md":
		w = report.NewMarkdownWriter(out)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	_, err := w.Write(rep)
	return err
}
