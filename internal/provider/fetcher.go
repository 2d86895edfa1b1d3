// Package provider retrieves raw heart-rate time series from the external
// fitness provider. Error classification happens once here, at the fetch
// boundary: callers branch on typed fields, never on message text.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// dataSourceID identifies the merged heart-rate stream on the provider.
const dataSourceID = "derived:com.google.heart_rate.bpm:com.google.android.gms:merge_heart_rate_bpm"

// Point is one raw sample as returned by the provider. Value is nil when
// the provider sent a point without a numeric reading.
type Point struct {
	StartNanos int64
	Value      *float64
	Origin     string
}

// Time converts the nanosecond source timestamp to millisecond granularity,
// which is what gets stored and deduplicated on.
func (p Point) Time() time.Time {
	return time.UnixMilli(p.StartNanos / 1e6).UTC()
}

// APIError is a non-success provider response. StatusCode and Reason carry
// the machine-readable classification so downstream code never re-derives
// it from the body text.
type APIError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fitness API %d (%s): %s", e.StatusCode, e.Reason, e.Body)
}

// AuthFailure reports whether this response means the credential was
// rejected. Such failures are terminal for automated processing: retrying
// without re-authorization cannot succeed.
func (e *APIError) AuthFailure() bool {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	switch e.Reason {
	case "UNAUTHENTICATED", "PERMISSION_DENIED", "invalid_token":
		return true
	}
	return false
}

// Client fetches datasets from the provider's REST API.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient builds a Client for the given API base URL. The request timeout
// bounds a hung provider call so one stuck session cannot stall a whole
// scheduler tick indefinitely.
func NewClient(baseURL string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
	}
}

// dataset is the provider's dataset response shape.
type dataset struct {
	Point []struct {
		StartTimeNanos     string `json:"startTimeNanos"`
		OriginDataSourceID string `json:"originDataSourceId"`
		Value              []struct {
			FpVal *float64 `json:"fpVal"`
		} `json:"value"`
	} `json:"point"`
}

// apiErrorBody is the provider's structured error envelope.
type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// FetchSamples retrieves all points in [windowStart, windowEnd). The window
// boundaries form the provider's nanosecond dataset identifier. A window
// with zero points is a valid outcome and yields an empty slice, not an
// error.
func (c *Client) FetchSamples(ctx context.Context, token string, windowStart, windowEnd time.Time) ([]Point, error) {
	datasetID := fmt.Sprintf("%d-%d", windowStart.UnixNano(), windowEnd.UnixNano())
	endpoint := fmt.Sprintf("%s/users/me/dataSources/%s/datasets/%s",
		c.baseURL, url.PathEscape(dataSourceID), datasetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset %s: %w", datasetID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read dataset response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		var envelope apiErrorBody
		if json.Unmarshal(body, &envelope) == nil {
			apiErr.Reason = envelope.Error.Status
		}
		return nil, apiErr
	}

	var ds dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset response: %w", err)
	}

	points := make([]Point, 0, len(ds.Point))
	for _, raw := range ds.Point {
		nanos, err := strconv.ParseInt(raw.StartTimeNanos, 10, 64)
		if err != nil {
			continue
		}
		p := Point{StartNanos: nanos, Origin: raw.OriginDataSourceID}
		if p.Origin == "" {
			p.Origin = "google_fit"
		}
		if len(raw.Value) > 0 {
			p.Value = raw.Value[0].FpVal
		}
		points = append(points, p)
	}
	return points, nil
}
