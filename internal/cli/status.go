package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/correlation"
	"github.com/vietddude/faultline/internal/mapping"
	"github.com/vietddude/faultline/internal/resilience/breaker"
)

var serverAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the circuit breaker state of every dependency",
	Run:   runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset [dependency]",
	Short: "Force a dependency's circuit breaker back to CLOSED",
	Args:  cobra.ExactArgs(1),
	Run:   runReset,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, resetCmd} {
		c.Flags().StringVar(&serverAddr, "addr", "", "status server address (default http://localhost:<server.port>)")
		rootCmd.AddCommand(c)
	}
}

func baseURL(cmd *cobra.Command) string {
	if serverAddr != "" {
		return strings.TrimRight(serverAddr, "/")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
}

// request calls the status server and turns error envelopes back into
// application errors.
func request(ctx context.Context, method, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(correlation.Header, correlation.NewID())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, mapping.FromError(err, "faultline")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		if ae, perr := apperror.ParseWire(body); perr == nil {
			return nil, ae
		}
		return nil, mapping.MapHTTPResponse(resp.StatusCode, body, "faultline")
	}
	return body, nil
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body, err := request(ctx, http.MethodGet, baseURL(cmd)+"/breakers")
	if err != nil {
		slog.Error("Failed to fetch breaker status", "error", err)
		os.Exit(1)
	}

	var statuses []breaker.Status
	if err := json.Unmarshal(body, &statuses); err != nil {
		slog.Error("Failed to decode breaker status", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DEPENDENCY\tSTATE\tFAILURES\tREQUESTS\tFAILURE RATE\tNEXT RETRY")
	for _, st := range statuses {
		next := "-"
		if st.NextRetryTime != nil {
			next = st.NextRetryTime.Local().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%s\n",
			st.Name, st.State, st.Failures, st.Requests, st.FailureRate, next)
	}
	_ = w.Flush()
}

func runReset(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := args[0]
	if _, err := request(ctx, http.MethodPost, baseURL(cmd)+"/breakers/"+name+"/reset"); err != nil {
		slog.Error("Failed to reset circuit breaker", "dependency", name, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Circuit breaker for %s reset to CLOSED\n", name)
}
