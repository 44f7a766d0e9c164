package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/config"
	cadencehttp "github.com/fyrsmithlabs/cadence/internal/http"
	"github.com/fyrsmithlabs/cadence/internal/summary"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const clientTimeout = 10 * time.Second

type summariesOptions struct {
	date   string
	query  string
	limit  int
	stats  bool
	start  string
	end    string
	asJSON bool
}

func newSummariesCmd() *cobra.Command {
	var opts summariesOptions
	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List or search work summaries from a running daemon",
		Long: `List the work summaries recorded for a day, search them, or show
aggregate statistics for a date range.

Examples:
  # Today's work
  cadenced summaries

  # A specific day
  cadenced summaries --date 2026-10-14

  # Search
  cadenced summaries --search tide --limit 5

  # Statistics for a week
  cadenced summaries --stats --start 2026-10-08 --end 2026-10-14`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := resolveServerURL()
			if err != nil {
				return err
			}
			return runSummaries(cmd.Context(), cmd.OutOrStdout(), base, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.date, "date", "", "day to list (YYYY-MM-DD, default today)")
	f.StringVar(&opts.query, "search", "", "search text")
	f.IntVar(&opts.limit, "limit", 0, "maximum search results")
	f.BoolVar(&opts.stats, "stats", false, "show statistics instead of summaries")
	f.StringVar(&opts.start, "start", "", "stats range start (YYYY-MM-DD)")
	f.StringVar(&opts.end, "end", "", "stats range end (YYYY-MM-DD)")
	f.BoolVar(&opts.asJSON, "json", false, "print the raw JSON response")
	return cmd
}

// resolveServerURL prefers --server, then the configured listen address.
func resolveServerURL() (string, error) {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/"), nil
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Server.Addr(), nil
}

func runSummaries(ctx context.Context, out io.Writer, base string, opts summariesOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q := url.Values{}
	path := "/api/v1/summaries"
	switch {
	case opts.stats:
		path = "/api/v1/stats"
		setIf(q, "start", opts.start)
		setIf(q, "end", opts.end)
	case opts.query != "":
		q.Set("q", opts.query)
		if opts.limit > 0 {
			q.Set("limit", strconv.Itoa(opts.limit))
		}
	default:
		setIf(q, "date", opts.date)
	}

	target := base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	body, err := getJSON(ctx, target)
	if err != nil {
		return err
	}
	if opts.asJSON {
		_, err := out.Write(append(body, '\n'))
		return err
	}

	if opts.stats {
		var stats summary.Stats
		if err := json.Unmarshal(body, &stats); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		printStats(out, &stats)
		return nil
	}
	var resp cadencehttp.SummariesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	printSummaries(out, &resp)
	return nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func getJSON(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func printSummaries(out io.Writer, resp *cadencehttp.SummariesResponse) {
	switch {
	case resp.Query != "":
		fmt.Fprintf(out, "%d result(s) for %q\n", resp.Count, resp.Query)
	default:
		fmt.Fprintf(out, "%d summary(ies) for %s\n", resp.Count, resp.Date)
	}
	for _, s := range resp.Summaries {
		mark := "ok"
		if !s.Success {
			mark = "FAILED"
		}
		fmt.Fprintf(out, "  %-9s %-6s %-11s %s (%.0f min, $%.2f)\n",
			s.Phase, mark, s.Category, s.Name, s.DurationMinutes, s.CostUSD)
		fmt.Fprintf(out, "            %s\n", s.Slug)
	}
}

func printStats(out io.Writer, st *summary.Stats) {
	fmt.Fprintf(out, "%s to %s: %d unit(s), %.0f min, $%.2f, %.0f%% succeeded\n",
		st.Start, st.End, st.Count, st.TotalMinutes, st.CostUSD, st.SuccessRate*100)

	cats := make([]workunit.Category, 0, len(st.ByCategory))
	for c := range st.ByCategory {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	for _, c := range cats {
		b := st.ByCategory[c]
		fmt.Fprintf(out, "  %-11s %3d  %6.0f min  $%.2f\n", c, b.Count, b.Minutes, b.CostUSD)
	}
}
