package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const userAgent = "Dimplesluxe-Exchange-Rate-Fetcher"

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// LatestSource reads `{baseURL}/{BASE}` responses shaped as {"rates": {...}}.
type LatestSource struct {
	BaseURL string
	Client  *http.Client
}

func (s *LatestSource) Name() string { return "latest" }

func (s *LatestSource) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	var body struct {
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/" + url.PathEscape(base)
	if err := getJSON(ctx, defaultClient(s.Client), endpoint, &body); err != nil {
		return decimal.Decimal{}, err
	}
	rate, ok := body.Rates[quote]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("rate for %s missing", quote)
	}
	return rate, nil
}

// ConvertSource calls a convert endpoint with from/to/amount=1 and reads info.quote.
type ConvertSource struct {
	URL       string
	AccessKey string
	Client    *http.Client
}

func (s *ConvertSource) Name() string { return "convert" }

func (s *ConvertSource) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	q := url.Values{}
	if s.AccessKey != "" {
		q.Set("access_key", s.AccessKey)
	}
	q.Set("from", base)
	q.Set("to", quote)
	q.Set("amount", "1")

	var body struct {
		Success *bool `json:"success"`
		Info    struct {
			Quote decimal.Decimal `json:"quote"`
		} `json:"info"`
	}
	if err := getJSON(ctx, defaultClient(s.Client), s.URL+"?"+q.Encode(), &body); err != nil {
		return decimal.Decimal{}, err
	}
	if body.Success != nil && !*body.Success {
		return decimal.Decimal{}, fmt.Errorf("convert request unsuccessful")
	}
	return body.Info.Quote, nil
}
