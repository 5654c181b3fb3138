package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout  = 15 * time.Second
	defaultMaxRetryTime = 30 * time.Second
	maxPages            = 50
)

type HTTPConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetryTime time.Duration
	HTTPClient   *http.Client
}

// HTTPJobSource queries a CRM REST endpoint: GET {base}/jobs?created_after=&created_before=
// with cursor pagination. Transient failures are retried with exponential backoff.
type HTTPJobSource struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	maxRetryTime time.Duration
	logger       *zap.Logger
}

type jobsPage struct {
	Jobs       []Job  `json:"jobs"`
	NextCursor string `json:"next_cursor"`
}

func NewHTTPJobSource(cfg HTTPConfig, logger *zap.Logger) (*HTTPJobSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("crm base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	maxRetry := cfg.MaxRetryTime
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetryTime
	}
	return &HTTPJobSource{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		client:       client,
		maxRetryTime: maxRetry,
		logger:       logger,
	}, nil
}

func (s *HTTPJobSource) JobsCreatedBetween(ctx context.Context, from, to time.Time) ([]Job, error) {
	var (
		jobs   []Job
		cursor string
	)
	for page := 0; page < maxPages; page++ {
		p, err := s.fetchPage(ctx, from, to, cursor)
		if err != nil {
			return nil, err
		}
		for _, j := range p.Jobs {
			// The remote filter is advisory; enforce the inclusive window here.
			if j.CreatedAt.Before(from) || j.CreatedAt.After(to) {
				continue
			}
			jobs = append(jobs, j)
		}
		if p.NextCursor == "" {
			return jobs, nil
		}
		cursor = p.NextCursor
	}
	s.logger.Warn("CRM pagination limit reached", zap.Int("pages", maxPages))
	return jobs, nil
}

func (s *HTTPJobSource) fetchPage(ctx context.Context, from, to time.Time, cursor string) (jobsPage, error) {
	q := url.Values{}
	q.Set("created_after", from.UTC().Format(time.RFC3339))
	q.Set("created_before", to.UTC().Format(time.RFC3339))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := s.baseURL + "/jobs?" + q.Encode()

	var page jobsPage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Warn("CRM request failed", zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("crm status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			// Client errors will not improve on retry.
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return backoff.Permanent(fmt.Errorf("decode crm jobs: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.maxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return jobsPage{}, fmt.Errorf("fetch crm jobs: %w", err)
	}
	return page, nil
}
