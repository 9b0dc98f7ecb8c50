package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/squai/internal/infra/storage/postgres"
	"github.com/vietddude/squai/internal/render"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently asked questions (requires database.url)",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		slog.Error("History is only persisted with a database; set database.url")
		return errHistoryDisabled
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := postgres.NewHistoryRepo(db).List(ctx, limit)
	if err != nil {
		slog.Error("Failed to query history", "error", err)
		return err
	}

	return render.History(os.Stdout, entries)
}
