package tiingo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nerdymil30/market-data-api/types"
)

const defaultBaseURL = "https://api.tiingo.com"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=tiingo_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient is a narrow client for the Tiingo end-of-day API.
type APIClient struct {
	baseURL    string
	httpClient HTTPClient
	header     http.Header
}

// APIClientOption is a configuration option for the Tiingo API client.
type APIClientOption func(*APIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) APIClientOption {
	return func(c *APIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) APIClientOption {
	return func(c *APIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewAPIClient creates a new Tiingo API client authenticating with key.
func NewAPIClient(key string, options ...APIClientOption) (*APIClient, error) {
	c := &APIClient{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	if key != "" {
		// https://www.tiingo.com/documentation/general/connecting
		c.header.Set("Authorization", "Token "+key)
	}
	c.header.Set("Accept", "application/json")
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// dailyPrice is one row of the /tiingo/daily/{ticker}/prices response.
// Price fields are pointers: Tiingo omits columns it has no data for.
type dailyPrice struct {
	Date      string   `json:"date"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    *float64 `json:"volume"`
	AdjOpen   *float64 `json:"adjOpen"`
	AdjHigh   *float64 `json:"adjHigh"`
	AdjLow    *float64 `json:"adjLow"`
	AdjClose  *float64 `json:"adjClose"`
	AdjVolume *float64 `json:"adjVolume"`
}

// GetDailyPrices fetches end-of-day rows for the inclusive date range.
// An unknown ticker or a range with no trading days yields an empty
// slice, not an error.
func (c *APIClient) GetDailyPrices(ctx context.Context, ticker string, start, end time.Time) ([]dailyPrice, error) {
	q := url.Values{}
	q.Set("startDate", start.Format("2006-01-02"))
	q.Set("endDate", end.Format("2006-01-02"))
	q.Set("format", "json")
	q.Set("resampleFreq", "daily")

	u := fmt.Sprintf("%s/tiingo/daily/%s/prices?%s", c.baseURL, url.PathEscape(ticker), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// Tiingo 404s unknown tickers; treat as no data.
		return nil, nil
	default:
		return nil, statusError(res)
	}

	var rows []dailyPrice
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding prices response: %w", err)
	}
	return rows, nil
}

// CheckKey makes one lightweight call verifying the API key works.
func (c *APIClient) CheckKey(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/test", http.NoBody)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	default:
		return false, statusError(res)
	}
}

func statusError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
	return &types.ProviderError{
		Provider:   Name,
		StatusCode: res.StatusCode,
		Body:       string(body),
	}
}
