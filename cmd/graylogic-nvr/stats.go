package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-nvr/internal/api"
)

// statsTimeout bounds each request to the service.
const statsTimeout = 10 * time.Second

// statsOptions holds flags for the stats command.
type statsOptions struct {
	APIURL  string
	Format  string // "text" | "json"
	Records bool
	Enable  bool
	Disable bool
	Clear   bool
	Top     int
}

func newStatsCommand() *cobra.Command {
	opts := &statsOptions{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show update statistics captured by a running service",
		Long: `Query the update-channel statistics recorded by a running service.

Capture is off unless cache.capture_stats is set; use --enable to turn it
on at runtime and --clear to start a fresh sample.

Examples:
  graylogic-nvr stats --enable
  graylogic-nvr stats --top 20
  graylogic-nvr stats --records --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd.OutOrStdout(), http.DefaultClient, opts)
		},
	}

	cmd.Flags().StringVar(&opts.APIURL, "api", "http://127.0.0.1:8090", "service API base URL")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.Flags().BoolVar(&opts.Records, "records", false, "include raw records (json format only)")
	cmd.Flags().BoolVar(&opts.Enable, "enable", false, "turn capture on")
	cmd.Flags().BoolVar(&opts.Disable, "disable", false, "turn capture off")
	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "discard captured records")
	cmd.Flags().IntVar(&opts.Top, "top", 10, "number of keys to list")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")

	return cmd
}

func runStats(ctx context.Context, out io.Writer, hc *http.Client, opts *statsOptions) error {
	if opts.Format != "text" && opts.Format != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
	}
	base := strings.TrimRight(opts.APIURL, "/") + "/api/v1/ws/stats"

	if opts.Enable || opts.Disable {
		body, err := json.Marshal(map[string]bool{"enabled": opts.Enable})
		if err != nil {
			return err
		}
		if err := statsRequest(ctx, hc, http.MethodPut, base, body, nil); err != nil {
			return fmt.Errorf("setting capture: %w", err)
		}
	}
	if opts.Clear {
		if err := statsRequest(ctx, hc, http.MethodDelete, base, nil, nil); err != nil {
			return fmt.Errorf("clearing records: %w", err)
		}
	}

	url := base
	if opts.Records {
		url += "?records=true"
	}
	var resp api.WSStatsResponse
	if err := statsRequest(ctx, hc, http.MethodGet, url, nil, &resp); err != nil {
		return fmt.Errorf("fetching stats: %w", err)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printStats(out, resp, opts.Top)
	return nil
}

func statsRequest(ctx context.Context, hc *http.Client, method, url string, body []byte, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func printStats(out io.Writer, resp api.WSStatsResponse, top int) {
	sum := resp.Summary
	fmt.Fprintf(out, "Capture:    %s\n", onOff(resp.Enabled))
	fmt.Fprintf(out, "Packets:    %d\n", sum.Count)
	fmt.Fprintf(out, "Unfiltered: %d\n", sum.Unfiltered)
	fmt.Fprintf(out, "Filtered:   %.1f%%\n", sum.FilteredPercent)

	printCounts(out, "Models", sum.Models, 0)
	printCounts(out, "Actions", sum.Actions, 0)
	printCounts(out, "Keys", sum.Keys, top)
}

// printCounts lists counts in descending order, at most limit entries when
// limit is positive.
func printCounts(out io.Writer, title string, counts map[string]int, limit int) {
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	fmt.Fprintf(out, "%s:\n", title)
	for _, k := range names {
		fmt.Fprintf(out, "  %-24s %d\n", k, counts[k])
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
