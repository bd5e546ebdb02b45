// Package openfda downloads drug labels from the openFDA drug label endpoint.
package openfda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultBaseURL is the public openFDA API.
	DefaultBaseURL = "https://api.fda.gov"

	labelPath = "/drug/label.json"

	// MaxPageSize is the largest limit openFDA accepts per request.
	MaxPageSize = 1000
	// MaxSkip is the deepest offset openFDA serves with skip-based paging.
	MaxSkip = 25000

	defaultPageSize = 100
	defaultRetryMax = 3
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 4 << 10
)

// ErrSkipTooDeep is returned when paging would pass MaxSkip.
var ErrSkipTooDeep = errors.New("openfda: skip exceeds the 25000 result window")

// Options configures a Client. Zero values pick the defaults.
type Options struct {
	BaseURL string
	// APIKey raises the openFDA rate limit. Optional.
	APIKey       string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Client is an openFDA drug label client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = defaultRetryMax
	}

	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil

	if opts.Logger != nil {
		retryClient.Logger = opts.Logger
	}

	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}

	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: retryClient,
	}
}

// SearchOptions selects one page of labels.
type SearchOptions struct {
	// Search is an openFDA search expression, e.g. `openfda.brand_name:"Taltz"`. Empty matches all labels.
	Search string
	Limit  int
	Skip   int
}

// Page is one page of label results. Results are left raw for the caller to decode.
type Page struct {
	Total   int
	Skip    int
	Results []json.RawMessage
}

type labelResponse struct {
	Meta struct {
		Results struct {
			Skip  int `json:"skip"`
			Limit int `json:"limit"`
			Total int `json:"total"`
		} `json:"results"`
	} `json:"meta"`
	Results []json.RawMessage `json:"results"`
}

// SearchLabels fetches one page. A search without matches yields an empty page, not an error.
func (c *Client) SearchLabels(ctx context.Context, opts SearchOptions) (*Page, error) {
	if opts.Skip > MaxSkip {
		return nil, ErrSkipTooDeep
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	limit = min(limit, MaxPageSize)

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	if opts.Search != "" {
		params.Set("search", opts.Search)
	}

	if opts.Skip > 0 {
		params.Set("skip", strconv.Itoa(opts.Skip))
	}

	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	reqURL := c.baseURL + labelPath + "?" + params.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close response body", "error", err)
		}
	}()

	// openFDA answers 404 when the search matches nothing.
	if resp.StatusCode == http.StatusNotFound {
		return &Page{Skip: opts.Skip}, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, fmt.Errorf("openfda request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var decoded labelResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &Page{
		Total:   decoded.Meta.Results.Total,
		Skip:    decoded.Meta.Results.Skip,
		Results: decoded.Results,
	}, nil
}

// EachPage walks the results of search page by page until fn has seen total results (total <= 0
// means all), the results run out or MaxSkip is reached. It returns how many results were
// passed to fn.
func (c *Client) EachPage(
	ctx context.Context, search string, pageSize, total int, fn func(results []json.RawMessage) error,
) (int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	pageSize = min(pageSize, MaxPageSize)
	seen := 0

	for skip := 0; skip <= MaxSkip; skip += pageSize {
		limit := pageSize
		if total > 0 {
			limit = min(limit, total-seen)
		}

		page, err := c.SearchLabels(ctx, SearchOptions{Search: search, Limit: limit, Skip: skip})
		if err != nil {
			return seen, err
		}

		if len(page.Results) == 0 {
			return seen, nil
		}

		if err := fn(page.Results); err != nil {
			return seen, err
		}

		seen += len(page.Results)

		if (total > 0 && seen >= total) || seen >= page.Total {
			return seen, nil
		}
	}

	return seen, nil
}
