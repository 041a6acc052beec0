package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/faultline/internal/control"
	"github.com/vietddude/faultline/internal/core/apperror"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check every configured dependency once and exit",
	Run:   runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	app, err := control.NewService(cfg)
	if err != nil {
		slog.Error("Failed to initialize faultline", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	failures := app.ProbeOnce(ctx)

	names := make([]string, 0, len(cfg.Dependencies))
	for _, d := range cfg.Dependencies {
		names = append(names, d.Name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DEPENDENCY\tRESULT\tCODE\tMESSAGE")
	for _, name := range names {
		err, failed := failures[name]
		if !failed {
			_, _ = fmt.Fprintf(w, "%s\tok\t-\t-\n", name)
			continue
		}
		code, msg := apperror.CodeOf(err), err.Error()
		if ae, ok := apperror.As(err); ok {
			msg = ae.Message()
		}
		_, _ = fmt.Fprintf(w, "%s\tfailed\t%s\t%s\n", name, code, msg)
	}
	_ = w.Flush()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = app.Stop(shutdownCtx)

	if len(failures) > 0 {
		os.Exit(1)
	}
}
