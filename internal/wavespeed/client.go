package wavespeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/models"
)

const (
	DefaultMaxAttempts = 120
	DefaultInterval    = 3 * time.Second
)

type Client struct {
	apiKey     string
	baseURL    string
	paths      map[models.ModelVariant]string
	httpClient *http.Client
	log        *slog.Logger
}

type SubmitRequest struct {
	Variant models.ModelVariant
	Images  []string
	Prompt  string
}

type JobState string

const (
	JobSubmitted JobState = "submitted"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
)

// JobOutcome is the in-memory result of one provider round-trip.
type JobOutcome struct {
	RequestID     string
	State         JobState
	AssetURL      string
	FailureReason string
	Polls         int
}

type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// Result is a single status snapshot of a job.
type Result struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Outputs []string `json:"outputs"`
	Error   string   `json:"error"`
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Client{
		apiKey:  cfg.WaveSpeedAPIKey,
		baseURL: strings.TrimRight(cfg.WaveSpeedBaseURL, "/"),
		paths: map[models.ModelVariant]string{
			models.ModelSeedream:   cfg.SeedreamPath,
			models.ModelNanoBanana: cfg.NanoBananaPath,
		},
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Submit creates an asynchronous job and returns the provider's request id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	path, ok := c.paths[req.Variant]
	if !ok || path == "" {
		return "", fmt.Errorf("no endpoint configured for model variant %q", req.Variant)
	}
	if len(req.Images) == 0 {
		return "", fmt.Errorf("at least one source image is required")
	}
	fullURL, err := c.resolve(path)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]any{
		"images":           req.Images,
		"prompt":           req.Prompt,
		"enable_sync_mode": false,
		"output_format":    "jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	if c.log != nil {
		c.log.Info("submitting provider job", "url", fullURL, "variant", req.Variant)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post provider job: %w: %w", ErrProviderSubmission, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w: %w", ErrProviderSubmission, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(rawBody)
		if c.log != nil {
			c.log.Error("provider job submission failed", "status", resp.StatusCode, "url", fullURL, "message", msg)
		}
		return "", &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	}

	var submitResp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &submitResp); err != nil {
		return "", fmt.Errorf("decode submit response: %w: %w (body=%s)", ErrProviderSubmission, err, truncateBody(rawBody))
	}
	if submitResp.Data.ID == "" {
		return "", ErrMissingJobID
	}

	if c.log != nil {
		c.log.Info("provider job submitted", "request_id", submitResp.Data.ID)
	}
	return submitResp.Data.ID, nil
}

// AwaitResult polls the job until it reaches a terminal state or the attempt budget runs out.
// The returned outcome is populated on error as well, so callers can record what happened.
func (c *Client) AwaitResult(ctx context.Context, requestID string, opts PollOptions) (JobOutcome, error) {
	opts = opts.withDefaults()
	outcome := JobOutcome{RequestID: requestID, State: JobSubmitted}

	timer := time.NewTimer(opts.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(opts.Interval)
		}
		select {
		case <-ctx.Done():
			return outcome, fmt.Errorf("await job %s: %w", requestID, ctx.Err())
		case <-timer.C:
		}

		outcome.Polls = attempt
		result, err := c.GetResult(ctx, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, fmt.Errorf("await job %s: %w", requestID, ctx.Err())
			}
			if c.log != nil {
				c.log.Warn("provider status poll failed", "request_id", requestID, "attempt", attempt, "err", err)
			}
			continue
		}

		switch result.Status {
		case "completed":
			if len(result.Outputs) == 0 || result.Outputs[0] == "" {
				outcome.State = JobFailed
				outcome.FailureReason = ErrNoOutputProduced.Error()
				return outcome, ErrNoOutputProduced
			}
			outcome.State = JobCompleted
			outcome.AssetURL = result.Outputs[0]
			if c.log != nil {
				c.log.Info("provider job completed", "request_id", requestID, "attempt", attempt)
			}
			return outcome, nil

		case "failed":
			reason := result.Error
			if reason == "" {
				reason = "unknown error"
			}
			outcome.State = JobFailed
			outcome.FailureReason = reason
			if c.log != nil {
				c.log.Error("provider job failed", "request_id", requestID, "reason", reason)
			}
			return outcome, &JobFailedError{RequestID: requestID, Reason: reason}

		default:
			if c.log != nil && attempt%10 == 0 {
				c.log.Info("provider job pending", "request_id", requestID, "status", result.Status, "attempt", attempt, "max_attempts", opts.MaxAttempts)
			}
		}
	}

	outcome.State = JobTimedOut
	elapsed := int(int64(opts.MaxAttempts) * opts.Interval.Milliseconds() / 1000)
	return outcome, &PollTimeoutError{RequestID: requestID, Attempts: opts.MaxAttempts, ElapsedSeconds: elapsed}
}

// GetResult fetches the current status of a job once.
func (c *Client) GetResult(ctx context.Context, requestID string) (*Result, error) {
	fullURL, err := c.resolve("/api/v3/predictions/" + url.PathEscape(requestID) + "/result")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: errorMessage(rawBody)}
	}

	var statusResp struct {
		Data Result `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &statusResp); err != nil {
		return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return &statusResp.Data, nil
}

func (c *Client) resolve(path string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return base.ResolveReference(endpoint).String(), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

// errorMessage extracts the provider's message or error field, falling back to the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return truncateBody(body)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
