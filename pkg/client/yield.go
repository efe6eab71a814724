package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrYieldRejected is returned when the yield service answers 200 with an
// error payload, e.g. a CSV without a district column.
var ErrYieldRejected = errors.New("yield service rejected input")

type YieldPrediction struct {
	Rows    int                      `json:"n_rows"`
	Records []map[string]interface{} `json:"records"`
}

type YieldHealth struct {
	Status  string `json:"status"`
	BNSRows int    `json:"bns_rows"`
}

// YieldClient uploads feature CSVs to the yield forecast service.
type YieldClient struct {
	*BaseClient
	baseURL string
}

func NewYieldClient(baseURL string, config ClientConfig, logger *zap.Logger) *YieldClient {
	return &YieldClient{
		BaseClient: NewBaseClient("yield", config, logger),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Predict posts the CSV as the multipart field "file".
func (c *YieldClient) Predict(ctx context.Context, filename string, csvData []byte, adjust bool) (*YieldPrediction, error) {
	if len(csvData) == 0 {
		return nil, fmt.Errorf("%w: empty csv", ErrYieldRejected)
	}
	if filename == "" {
		filename = "features.csv"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(csvData); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	values := url.Values{}
	values.Set("mvp_adjust", strconv.FormatBool(adjust))

	data, err := c.PostWithRetry(ctx, c.baseURL+"/predict?"+values.Encode(), writer.FormDataContentType(), body.Bytes())
	if err != nil {
		return nil, fmt.Errorf("yield predict: %w", err)
	}

	var raw struct {
		Error   *string                  `json:"error"`
		Rows    int                      `json:"n_rows"`
		Records []map[string]interface{} `json:"records"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yield response: %w", err)
	}
	if raw.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrYieldRejected, *raw.Error)
	}

	return &YieldPrediction{Rows: raw.Rows, Records: raw.Records}, nil
}

func (c *YieldClient) Health(ctx context.Context) (*YieldHealth, error) {
	data, err := c.GetWithRetry(ctx, c.baseURL+"/health")
	if err != nil {
		return nil, fmt.Errorf("yield health: %w", err)
	}
	var out YieldHealth
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode yield health: %w", err)
	}
	return &out, nil
}
