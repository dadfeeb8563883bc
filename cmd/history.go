package cmd

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/history"
	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/utils"
)

const historyQueryWidth = 60

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the most recent requests recorded in the local history",
	Run: func(cmd *cobra.Command, _ []string) {
		showHistory(cmd)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "number of entries to show")
	historyCmd.Flags().StringP("user", "u", "", "only show requests of this user")
}

func showHistory(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	user, _ := cmd.Flags().GetString("user")

	if backend := viper.GetString("history.backend"); backend != "sqlite" {
		logger.Fatal("history can only be listed from the local database", zap.String("backend", backend))
	}

	db, err := history.OpenSQLite(ctx, viper.GetString("history.dir"))
	if err != nil {
		logger.Fatal("opening history", zap.Error(err))
	}
	defer db.Close()

	entries, err := db.Recent(ctx, user, limit)
	if err != nil {
		logger.Fatal("reading history", zap.Error(err))
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			e.RequestID,
			e.UserID,
			tableCell(utils.TruncateForLog(e.Query, historyQueryWidth)),
			strconv.Itoa(e.FilesCount),
			string(e.Status),
		})
	}

	md := markdown.NewMarkdown(os.Stdout).
		Table(markdown.TableSet{
			Header: []string{"Time", "Request", "User", "Query", "Files", "Status"},
			Rows:   rows,
		})
	if err := md.Build(); err != nil {
		logger.Fatal("printing history", zap.Error(err))
	}
}

func tableCell(s string) string {
	return strings.ReplaceAll(strings.Join(strings.Fields(s), " "), "|", `\|`)
}
