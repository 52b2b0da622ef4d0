package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newScrapeCmd submits a scrape request to the running scraper service and
// prints the outcome.
func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape <query>",
		Short: "Scrape marketplace listings for a search query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Query     string   `json:"query"`
				Added     int      `json:"added"`
				Updated   int      `json:"updated"`
				Dropped   int      `json:"dropped"`
				Errors    []string `json:"errors"`
				ElapsedMS int64    `json:"elapsed_ms"`
			}
			err := postJSON(cmd.Context(), scraperURL("/v1/scrape"),
				map[string]string{"query": args[0]}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "query %q: %d added, %d updated, %d dropped in %dms\n",
				resp.Query, resp.Added, resp.Updated, resp.Dropped, resp.ElapsedMS)
			for _, e := range resp.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  plugin error: %s\n", e)
			}
			return nil
		},
	}
}

type analysisStatus struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Processed     int64  `json:"processed"`
	Scored        int64  `json:"scored"`
	Errored       int64  `json:"errored"`
	Skipped       int64  `json:"skipped"`
	TotalEstimate int64  `json:"total_estimate"`
	LastError     string `json:"last_error,omitempty"`
}

// newAnalyzeCmd starts a sentiment analysis job and polls it to completion.
func newAnalyzeCmd() *cobra.Command {
	var (
		credentialRef string
		batchSize     int
		noWait        bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score unscored products for sentiment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if credentialRef == "" {
				return fmt.Errorf("--credential is required")
			}
			var started struct {
				JobID string `json:"job_id"`
			}
			err := postJSON(cmd.Context(), sentimentURL("/v1/analysis"), map[string]any{
				"credential_ref": credentialRef,
				"batch_size":     batchSize,
			}, &started)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "analysis started: %s\n", started.JobID)
			if noWait {
				return nil
			}
			return pollAnalysis(cmd, started.JobID)
		},
	}
	cmd.Flags().StringVar(&credentialRef, "credential", "", "credential id or name to score with")
	cmd.Flags().IntVar(&batchSize, "batch", 0, "products fetched per batch (0 uses the service default)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return after starting instead of polling to completion")
	return cmd
}

func pollAnalysis(cmd *cobra.Command, jobID string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		var st analysisStatus
		if err := getJSON(cmd.Context(), sentimentURL("/v1/analysis/"+jobID), &st); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d processed (%d scored, %d skipped, %d errored)\n",
			st.Status, st.Processed, st.TotalEstimate, st.Scored, st.Skipped, st.Errored)
		if st.Status != "running" {
			if st.Status == "failed" {
				return fmt.Errorf("analysis failed: %s", st.LastError)
			}
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

// newClearCmd wipes all scraped data through the scraper service.
func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all scraped products, queries, and scores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete,
				scraperURL("/v1/products?confirm=true"), nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			if err := doJSON(req, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all scraped data cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive operation")
	return cmd
}

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage sentiment provider credentials",
	}
	cmd.AddCommand(newCredentialAddCmd(), newCredentialUnlockCmd(), newCredentialListCmd())
	return cmd
}

func newCredentialAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <api-key>",
		Short: "Register a provider credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			err := postJSON(cmd.Context(), sentimentURL("/v1/credentials"),
				map[string]string{"name": args[0], "key": args[1]}, &rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential %q registered: %s\n", rec.Name, rec.ID)
			return nil
		},
	}
}

func newCredentialUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <id-or-name> <api-key>",
		Short: "Re-supply the key for a registered credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := postJSON(cmd.Context(), sentimentURL("/v1/credentials/"+args[0]+"/unlock"),
				map[string]string{"key": args[1]}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential %q unlocked\n", args[0])
			return nil
		},
	}
}

func newCredentialListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var recs []struct {
				ID        string    `json:"id"`
				Name      string    `json:"name"`
				CreatedAt time.Time `json:"created_at"`
			}
			if err := getJSON(cmd.Context(), sentimentURL("/v1/credentials"), &recs); err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no credentials registered")
				return nil
			}
			for _, r := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  added %s\n",
					r.ID, r.Name, r.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func scraperURL(path string) string   { return "http://" + cfg.ScraperAddr() + path }
func sentimentURL(path string) string { return "http://" + cfg.SentimentAddr() + path }

func postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(req, out)
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return doJSON(req, out)
}

func doJSON(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w (is the service running? try 'scrapqt up')", req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return serviceError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func serviceError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, body.Error)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = "no error detail"
	}
	return fmt.Errorf("%s: %s", resp.Status, msg)
}
