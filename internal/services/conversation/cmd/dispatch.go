package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/irrigation_session/internal/services/dispatcher"
)

type DispatchOptions struct {
	*RootOptions
	Addr    string
	Timeout time.Duration
}

// NewDispatchCommand asks a running server to run the daily batch now.
// Sessions live in the serving process, so the batch cannot run here.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Trigger the daily dispatch on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := opts.load(); err != nil {
				return err
			}
			rep, err := triggerDispatch(cmd.Context(), opts.Addr, opts.Timeout)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "http://localhost:8080", "admin address of the running server")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "request timeout")
	return cmd
}

func triggerDispatch(ctx context.Context, addr string, timeout time.Duration) (dispatcher.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(addr, "/") + "/dispatch"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return dispatcher.Report{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return dispatcher.Report{}, fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return dispatcher.Report{}, fmt.Errorf("dispatch: %s: %s", resp.Status, body["error"])
	}
	var rep dispatcher.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return dispatcher.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return rep, nil
}
