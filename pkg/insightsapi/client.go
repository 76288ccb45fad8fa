package insightsapi

import (
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

	"github.com/jg100/airbyte/pkg/metrics"
	"github.com/jg100/airbyte/pkg/slidingwindow"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Async report run statuses.
const (
	StatusNotStarted = "Job Not Started"
	StatusStarted    = "Job Started"
	StatusRunning    = "Job Running"
	StatusCompleted  = "Job Completed"
	StatusFailed     = "Job Failed"
	StatusSkipped    = "Job Skipped"
)

// ReportRun is the status of an asynchronous report run.
type ReportRun struct {
	ID                string `json:"id"`
	Status            string `json:"async_status"`
	PercentCompletion int    `json:"async_percent_completion"`
}

// Page is one page of report results.
type Page struct {
	Records []slidingwindow.Record
	// After is the cursor of the next page, empty on the last page.
	After string
}

// Client talks to the insights API of one ad account.
type Client struct {
	log     *zap.SugaredLogger
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewClient creates a Client authenticated with the configured access token.
// m may be nil to disable metrics.
func NewClient(ctx context.Context, log *zap.SugaredLogger, cfg Config, m *metrics.Metrics) (*Client, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = cfg.Timeout

	return &Client{
		log:     log,
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		metrics: m,
	}, nil
}

// SubmitReport starts an asynchronous report run for window and returns its id.
func (c *Client) SubmitReport(ctx context.Context, w slidingwindow.Window, params slidingwindow.Params) (string, error) {
	form, err := EncodeParams(params)
	if err != nil {
		return "", err
	}
	timeRange, err := json.Marshal(map[string]string{
		"since": slidingwindow.FormatDate(w.Start),
		"until": slidingwindow.FormatDate(w.End),
	})
	if err != nil {
		return "", err
	}
	form.Set("time_range", string(timeRange))

	var resp struct {
		ReportRunID string `json:"report_run_id"`
	}
	path := "act_" + c.cfg.AccountID + "/insights"
	if err := c.do(ctx, "submit_report", http.MethodPost, path, form, &resp); err != nil {
		return "", fmt.Errorf("submit report for %s: %w", w, err)
	}
	if resp.ReportRunID == "" {
		return "", fmt.Errorf("submit report for %s: empty report run id", w)
	}
	return resp.ReportRunID, nil
}

// ReportStatus returns the status of a report run.
func (c *Client) ReportStatus(ctx context.Context, runID string) (*ReportRun, error) {
	var run ReportRun
	if err := c.do(ctx, "report_status", http.MethodGet, runID, nil, &run); err != nil {
		return nil, fmt.Errorf("report status %s: %w", runID, err)
	}
	return &run, nil
}

// ReportResults returns the result page of a finished report run that follows
// the after cursor. An empty after returns the first page.
func (c *Client) ReportResults(ctx context.Context, runID, after string) (*Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	if after != "" {
		q.Set("after", after)
	}

	var resp struct {
		Data   []slidingwindow.Record `json:"data"`
		Paging struct {
			Cursors struct {
				After string `json:"after"`
			} `json:"cursors"`
			Next string `json:"next"`
		} `json:"paging"`
	}
	if err := c.do(ctx, "report_results", http.MethodGet, runID+"/insights", q, &resp); err != nil {
		return nil, fmt.Errorf("report results %s: %w", runID, err)
	}

	page := &Page{Records: resp.Data}
	// The cursor is also present on the last page; only next tells more data exists.
	if resp.Paging.Next != "" {
		page.After = resp.Paging.Cursors.After
	}
	return page, nil
}

func (c *Client) do(ctx context.Context, method, httpMethod, path string, params url.Values, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordAPICall(method, err, time.Since(start).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.APIVersion + "/" + path
	var body io.Reader
	if httpMethod == http.MethodGet {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else if params != nil {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return parseError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// EncodeParams converts request parameters to form values. Strings are sent
// as is, string lists comma separated and everything else as JSON. Nil values
// and nil lists are left out; an empty list is sent as [].
func EncodeParams(params slidingwindow.Params) (url.Values, error) {
	form := url.Values{}
	for k, v := range params {
		switch v := v.(type) {
		case nil:
			continue
		case string:
			form.Set(k, v)
		case []string:
			switch {
			case v == nil:
				continue
			case len(v) == 0:
				form.Set(k, "[]")
			default:
				form.Set(k, strings.Join(v, ","))
			}
		case int:
			form.Set(k, strconv.Itoa(v))
		case bool:
			form.Set(k, strconv.FormatBool(v))
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode parameter %s: %w", k, err)
			}
			form.Set(k, string(b))
		}
	}
	return form, nil
}
