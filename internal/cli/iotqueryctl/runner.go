package iotqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

type rootOptions struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	stdout  io.Writer
	stderr  io.Writer
}

// Run executes one CLI invocation and returns the process exit code:
// 0 on success, 1 on request or HTTP failure, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := NewRootCommand(defaults, stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.msg != "" {
			_, _ = fmt.Fprintln(stderr, exit.msg)
		}
		return exit.code
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

func NewRootCommand(defaults Options, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{client: defaults.HTTPClient, stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:           "iotqueryctl",
		Short:         "Operator CLI for the IoT query API",
		Long:          "Ask questions, inspect the schema and manage query knowledge through the IoT query HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fmt.Errorf("a command is required")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "IoT query API base URL")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	cmd.AddCommand(
		newQuestionCommand(opts, "ask", "Translate and execute a question", "/v1/query/ask"),
		newQuestionCommand(opts, "translate", "Translate a question to SQL without executing it", "/v1/query/translate"),
		newProvidersCommand(opts),
		newGetCommand(opts, "health", "Check API liveness", "/v1/health"),
		newGetCommand(opts, "ready", "Check API readiness", "/v1/ready"),
		newSchemaCommand(opts),
		newStatsCommand(opts),
		newExamplesCommand(opts),
		newVocabularyCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
	)
	return cmd
}

func newQuestionCommand(opts *rootOptions, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <question>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"question": strings.Join(args, " ")}
			return opts.call(cmd.Context(), http.MethodPost, path, nil, body)
		},
	}
}

func newGetCommand(opts *rootOptions, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd.Context(), http.MethodGet, path, nil, nil)
		},
	}
}

func newProvidersCommand(opts *rootOptions) *cobra.Command {
	cmd := newGetCommand(opts, "providers", "Show SQL generator status", "/v1/query/providers")
	cmd.AddCommand(
		newGetCommand(opts, "check", "Run a health check against every SQL generator", "/v1/query/providers/health"),
		&cobra.Command{
			Use:   "switch <provider>",
			Short: "Make a healthy SQL generator the preferred one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.call(cmd.Context(), http.MethodPost, "/v1/query/providers/switch", nil, map[string]string{"provider": args[0]})
			},
		},
	)
	return cmd
}

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the analyzed database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if refresh {
				query.Set("refresh", "true")
			}
			return opts.call(cmd.Context(), http.MethodGet, "/v1/schema", query, nil)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "discard the cached analysis")
	return cmd
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query success statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if days > 0 {
				query.Set("days", strconv.Itoa(days))
			}
			return opts.call(cmd.Context(), http.MethodGet, "/v1/knowledge/stats", query, nil)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "look-back window in days (server default when 0)")
	return cmd
}

func newExamplesCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "examples [question]",
		Short: "List successful past queries similar to a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if len(args) > 0 {
				query.Set("q", strings.Join(args, " "))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			return opts.call(cmd.Context(), http.MethodGet, "/v1/knowledge/examples", query, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of examples")
	return cmd
}

func newVocabularyCommand(opts *rootOptions) *cobra.Command {
	var minConfidence float64
	cmd := &cobra.Command{
		Use:   "vocabulary",
		Short: "List learned term mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if cmd.Flags().Changed("min-confidence") {
				query.Set("min_confidence", strconv.FormatFloat(minConfidence, 'f', -1, 64))
			}
			return opts.call(cmd.Context(), http.MethodGet, "/v1/knowledge/vocabulary", query, nil)
		},
	}
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum mapping confidence")
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export query history to the object store as parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{}
			if strings.TrimSpace(since) != "" {
				parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(since))
				if err != nil {
					return fmt.Errorf("invalid --since %q: %w", since, err)
				}
				body["since"] = parsed
			}
			return opts.call(cmd.Context(), http.MethodPost, "/v1/knowledge/export", nil, body)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only export history created at or after this RFC3339 time")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <key>",
		Short: "Import a parquet history export into the knowledge store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd.Context(), http.MethodPost, "/v1/knowledge/import", nil, map[string]string{"key": args[0]})
		},
	}
}

func (o *rootOptions) call(ctx context.Context, method, path string, query url.Values, payload any) error {
	client := o.client
	if client == nil {
		client = &http.Client{Timeout: o.timeout}
	}

	endpoint := strings.TrimRight(o.baseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	code, responseBody, err := doRequest(ctx, client, method, endpoint, o.apiKey, payload)
	if err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("request failed: %v", err)}
	}
	if code >= 400 {
		return &exitError{code: 1, msg: fmt.Sprintf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(o.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(o.stdout, string(responseBody))
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
