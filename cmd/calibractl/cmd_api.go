package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"Calibra/internal/domain/models"
	xhttp "Calibra/pkg/http"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type patternRow struct {
	Pattern    string                  `json:"pattern"`
	Total      int                     `json:"total"`
	WinRate    float64                 `json:"win_rate"`
	Expectancy float64                 `json:"expectancy"`
	Lifecycle  models.PatternLifecycle `json:"lifecycle"`
}

func newClient() *xhttp.Client {
	return xhttp.NewClient(
		xhttp.WithBaseURL(apiURL),
		xhttp.WithTimeout(timeout),
		xhttp.WithRetries(2, 250*time.Millisecond),
		xhttp.WithHeader("User-Agent", "calibractl"),
	)
}

// call sends a request and decodes the data field of the response envelope.
func call(cmd *cobra.Command, method, path string, body, dest interface{}) error {
	var env envelope
	err := newClient().SendAndParse(cmd.Context(), &xhttp.RequestOptions{
		Method: method,
		URL:    path,
		Body:   body,
	}, &env)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if dest == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, dest)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	// healthz answers 503 with a body when degraded, so read it either way.
	resp, err := newClient().SendRequest(cmd.Context(), &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: "/healthz"})
	if err != nil {
		return fmt.Errorf("healthz: %w", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status      string            `json:"status"`
		Uptime      string            `json:"uptime"`
		OpenSignals int               `json:"open_signals"`
		Entries     int               `json:"entries"`
		Checks      map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "health:        %s (up %s)\n", health.Status, health.Uptime)
	for name, state := range health.Checks {
		fmt.Fprintf(out, "  %-12s %s\n", name+":", state)
	}
	fmt.Fprintf(out, "open signals:  %d\n", health.OpenSignals)
	fmt.Fprintf(out, "entries:       %d\n", health.Entries)

	var st models.RetrainStatus
	if err := call(cmd, xhttp.MethodGet, "/api/retrain/status", nil, &st); err != nil {
		fmt.Fprintf(out, "retrain:       unavailable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "retrain:       running=%t total=%d accuracy=%.4f\n", st.Running, st.TotalRetrains, st.Accuracy)
	if !st.LastRetrain.IsZero() {
		fmt.Fprintf(out, "last retrain:  %s (%s)\n", st.LastRetrain.Format("2006-01-02 15:04:05Z07:00"), st.LastReason)
	}
	if st.LastFailure != "" {
		fmt.Fprintf(out, "last failure:  %s\n", st.LastFailure)
	}
	return nil
}

func runPatterns(cmd *cobra.Command, _ []string) error {
	var rows []patternRow
	if err := call(cmd, xhttp.MethodGet, "/api/patterns", nil, &rows); err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tTRADES\tWIN RATE\tEXPECTANCY\tSTATE\tMULT")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.3f\t%s\t%.2f\n",
			r.Pattern, r.Total, r.WinRate*100, r.Expectancy, r.Lifecycle.State, r.Lifecycle.Multiplier)
	}
	return w.Flush()
}

func runReset(cmd *cobra.Command, args []string) error {
	var d models.LifecycleDecision
	path := "/api/patterns/" + url.PathEscape(strings.ToUpper(args[0])) + "/reset"
	if err := call(cmd, xhttp.MethodPost, path, map[string]string{"operator": operator}, &d); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s by %s\n", d.Pattern, d.From, d.To, d.Operator)
	return nil
}

func runRetrain(cmd *cobra.Command, _ []string) error {
	var resp map[string]interface{}
	if err := call(cmd, xhttp.MethodPost, "/api/retrain/trigger", map[string]string{"reason": reason}, &resp); err != nil {
		return err
	}
	if id, ok := resp["job_id"]; ok {
		fmt.Fprintf(cmd.OutOrStdout(), "retrain queued: %v\n", id)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "retrain requested")
	return nil
}
