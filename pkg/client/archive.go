package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

const searchPageLimit = 100

// ArchiveCredentials are OAuth2 client credentials for a geospatial archive.
type ArchiveCredentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

func (c ArchiveCredentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TokenURL != ""
}

// NewArchiveHTTPClient returns an HTTP client that attaches client-credential
// tokens to every request.
func NewArchiveHTTPClient(creds ArchiveCredentials, timeout time.Duration) *http.Client {
	config := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
	}
	httpClient := config.Client(context.Background())
	httpClient.Timeout = timeout
	return httpClient
}

// ArchiveClient talks to an imagery or climate archive that supports STAC
// item search and server-side region reduction.
type ArchiveClient struct {
	*BaseClient
	baseURL string
}

func NewArchiveClient(name, baseURL string, httpClient HTTPClient, config ClientConfig, logger *zap.Logger) *ArchiveClient {
	return &ArchiveClient{
		BaseClient: NewBaseClientWithHTTP(name, httpClient, config, logger),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// CQLFilter is a cql2-json expression.
type CQLFilter struct {
	Op   string        `json:"op"`
	Args []interface{} `json:"args"`
}

// CloudCoverBelow builds the strict eo:cloud_cover < pct filter.
func CloudCoverBelow(pct float64) *CQLFilter {
	return &CQLFilter{
		Op:   "<",
		Args: []interface{}{map[string]string{"property": "eo:cloud_cover"}, pct},
	}
}

// Interval formats a half-open [start, end) range for the datetime field.
func Interval(start, end time.Time) string {
	return start.UTC().Format(time.RFC3339) + "/" + end.UTC().Format(time.RFC3339)
}

type SearchRequest struct {
	Collections []string        `json:"collections"`
	Intersects  json.RawMessage `json:"intersects"`
	Datetime    string          `json:"datetime"`
	FilterLang  string          `json:"filter-lang,omitempty"`
	Filter      *CQLFilter      `json:"filter,omitempty"`
	Fields      *SearchFields   `json:"fields,omitempty"`
	Limit       int             `json:"limit"`
	Next        string          `json:"next,omitempty"`
}

type SearchFields struct {
	Include []string `json:"include"`
}

type SearchResponse struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Datetime string `json:"datetime"`
		} `json:"properties"`
	} `json:"features"`
	Context struct {
		Returned int             `json:"returned"`
		Next     json.RawMessage `json:"next,omitempty"`
	} `json:"context"`
}

// Search pages through the item search and returns every acquisition
// timestamp that matches.
func (c *ArchiveClient) Search(ctx context.Context, req SearchRequest) ([]time.Time, error) {
	if req.Limit <= 0 {
		req.Limit = searchPageLimit
	}
	if req.Filter != nil && req.FilterLang == "" {
		req.FilterLang = "cql2-json"
	}
	req.Fields = &SearchFields{Include: []string{"properties.datetime"}}

	var acquisitions []time.Time
	for {
		var resp SearchResponse
		if err := c.PostJSONWithRetry(ctx, c.baseURL+"/search", req, &resp); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}

		for _, f := range resp.Features {
			ts, err := time.Parse(time.RFC3339, f.Properties.Datetime)
			if err != nil {
				c.logger.Warn("Skipping acquisition with unparseable datetime",
					zap.String("client", c.name),
					zap.String("id", f.ID),
					zap.String("datetime", f.Properties.Datetime))
				continue
			}
			acquisitions = append(acquisitions, ts)
		}

		next := pageToken(resp.Context.Next)
		if next == "" || next == req.Next || len(resp.Features) == 0 {
			break
		}
		req.Next = next
	}

	return acquisitions, nil
}

// pageToken accepts both numeric and string continuation tokens.
func pageToken(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}

type ReduceRequest struct {
	Collection string          `json:"collection"`
	Intersects json.RawMessage `json:"intersects"`
	Datetime   string          `json:"datetime"`
	Filter     *CQLFilter      `json:"filter,omitempty"`
	Composite  string          `json:"composite"`
	Expression string          `json:"expression"`
	Band       string          `json:"band"`
	Reducers   []string        `json:"reducers"`
	Scale      float64         `json:"scale"`
}

// ReduceResponse carries raw "<band>_<reducer>" properties. Values are kept
// raw so callers can tell an absent key from null from a real zero.
type ReduceResponse struct {
	Matched    int                        `json:"matched"`
	Properties map[string]json.RawMessage `json:"properties"`
}

func (c *ArchiveClient) Reduce(ctx context.Context, req ReduceRequest) (*ReduceResponse, error) {
	var resp ReduceResponse
	if err := c.PostJSONWithRetry(ctx, c.baseURL+"/reduce", req, &resp); err != nil {
		return nil, fmt.Errorf("reduce %s: %w", req.Collection, err)
	}
	return &resp, nil
}

type DownloadRequest struct {
	Collection string          `json:"collection"`
	Intersects json.RawMessage `json:"intersects"`
	Datetime   string          `json:"datetime"`
	Filter     *CQLFilter      `json:"filter,omitempty"`
	Composite  string          `json:"composite"`
	Expression string          `json:"expression"`
	Band       string          `json:"band"`
	Dimensions string          `json:"dimensions"`
	Min        float64         `json:"min"`
	Max        float64         `json:"max"`
	Bands      int             `json:"bands"`
	CRS        string          `json:"crs"`
	Format     string          `json:"format"`
}

func (c *ArchiveClient) DownloadURL(ctx context.Context, req DownloadRequest) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.PostJSONWithRetry(ctx, c.baseURL+"/download", req, &resp); err != nil {
		return "", fmt.Errorf("download url: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("download url: empty url in response")
	}
	return resp.URL, nil
}
