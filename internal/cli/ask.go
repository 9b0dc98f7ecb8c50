package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/squai/internal/control"
	"github.com/vietddude/squai/internal/core/domain"
	"github.com/vietddude/squai/internal/render"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	f := askCmd.Flags()
	f.String("model", "", "model name (falcon-3b-10b, Llama 3.2)")
	f.String("retrieval", "", "retrieval method (bm25, e5, hybrid)")
	f.Float64("n-value", 0, "N_VALUE in [0, 1]")
	f.Int("top-k", 0, "TOP_K in [1, 20]")
	f.Float64("alpha", 0, "ALPHA in [0, 1]")
	f.Duration("timeout", 0, "retry budget for each backend call (overrides backend.retry.timeout)")
	f.Bool("json", false, "print the raw answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		cfg.Backend.Retry.Timeout = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize squai", "error", err)
		return err
	}
	defer app.Close()

	q := queryFromFlags(cmd, app.Service().NewQuery(strings.Join(args, " ")))

	slog.Debug("Submitting question", "query", q)
	out, err := app.Service().Answer(ctx, q)
	if err != nil {
		slog.Error("Failed to answer question", "error", err)
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Answer)
	}

	if err := render.Answer(os.Stdout, out.Answer); err != nil {
		return err
	}
	slog.Info("Done", "id", out.ID, "cached", out.Cached, "duration", out.Duration.Round(time.Millisecond))
	return nil
}

// queryFromFlags overrides q with every flag the user set explicitly.
func queryFromFlags(cmd *cobra.Command, q domain.Query) domain.Query {
	f := cmd.Flags()
	if f.Changed("model") {
		v, _ := f.GetString("model")
		q.Model = domain.Model(v)
	}
	if f.Changed("retrieval") {
		v, _ := f.GetString("retrieval")
		q.RetrievalMethod = domain.RetrievalMethod(v)
	}
	if f.Changed("n-value") {
		q.NValue, _ = f.GetFloat64("n-value")
	}
	if f.Changed("top-k") {
		q.TopK, _ = f.GetInt("top-k")
	}
	if f.Changed("alpha") {
		q.Alpha, _ = f.GetFloat64("alpha")
	}
	return q
}
