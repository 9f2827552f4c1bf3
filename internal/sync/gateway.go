package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/models"
)

// connectivityProbeTimeout bounds the health probe independently of the
// configured request timeout.
const connectivityProbeTimeout = 5 * time.Second

// FetchParams selects one page of remote records. LastSyncTime, when set,
// asks the gateway for records updated at or after the watermark.
type FetchParams struct {
	Page         int
	PageSize     int
	LastSyncTime *time.Time
	Filters      map[string]string
}

// TaskPage is one page of remote tasks plus the paging cursor state and the
// server clock observed with it.
type TaskPage struct {
	Tasks      []*models.Task
	Total      int
	Page       int
	PageSize   int
	HasMore    bool
	ServerTime time.Time
}

// EarningPage is the earnings counterpart of TaskPage.
type EarningPage struct {
	Earnings   []*models.Earning
	Total      int
	Page       int
	PageSize   int
	HasMore    bool
	ServerTime time.Time
}

// GatewayClient is the network boundary to the coordinating gateway.
// Callers loop pages until HasMore is false; the client never retries on
// its own.
type GatewayClient interface {
	FetchTasks(ctx context.Context, params FetchParams) (*TaskPage, error)
	FetchEarnings(ctx context.Context, params FetchParams) (*EarningPage, error)
	UploadTasks(ctx context.Context, tasks []*models.Task) (*models.UploadResult, error)
	UploadEarnings(ctx context.Context, earnings []*models.Earning) (*models.UploadResult, error)
	CheckConnectivity(ctx context.Context) error
	GetServerTime(ctx context.Context) (time.Time, error)
}

// HTTPGatewayClient talks to the gateway REST API. The transport is
// injected so TLS and framing stay out of scope here.
type HTTPGatewayClient struct {
	baseURL  string
	deviceID string
	authKey  string
	client   *http.Client
}

func NewHTTPGatewayClient(gatewayCfg config.GatewayConfig, runnerCfg config.RunnerConfig, timeout time.Duration, client *http.Client) *HTTPGatewayClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPGatewayClient{
		baseURL:  strings.TrimSuffix(gatewayCfg.Address, "/"),
		deviceID: runnerCfg.DeviceID,
		authKey:  gatewayCfg.AuthKey,
		client:   client,
	}
}

type pageData struct {
	Data     json.RawMessage `json:"data"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	HasMore  bool            `json:"hasMore"`
}

type fetchEnvelope struct {
	Success    bool      `json:"success"`
	Data       pageData  `json:"data"`
	ServerTime time.Time `json:"serverTime"`
	Version    string    `json:"version"`
	Error      string    `json:"error,omitempty"`
}

type uploadEnvelope struct {
	Success  bool     `json:"success"`
	Uploaded int      `json:"uploaded"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type timeEnvelope struct {
	ServerTime time.Time `json:"serverTime"`
}

func (c *HTTPGatewayClient) FetchTasks(ctx context.Context, params FetchParams) (*TaskPage, error) {
	env, err := c.fetchPage(ctx, "/api/sync/tasks", params)
	if err != nil {
		return nil, err
	}

	var tasks []*models.Task
	if len(env.Data.Data) > 0 {
		if err := json.Unmarshal(env.Data.Data, &tasks); err != nil {
			return nil, NewSyncError(ErrCodeNetwork, "malformed task payload").Wrap(err)
		}
	}

	return &TaskPage{
		Tasks:      tasks,
		Total:      env.Data.Total,
		Page:       env.Data.Page,
		PageSize:   env.Data.PageSize,
		HasMore:    env.Data.HasMore,
		ServerTime: env.ServerTime,
	}, nil
}

func (c *HTTPGatewayClient) FetchEarnings(ctx context.Context, params FetchParams) (*EarningPage, error) {
	env, err := c.fetchPage(ctx, "/api/sync/earnings", params)
	if err != nil {
		return nil, err
	}

	var earnings []*models.Earning
	if len(env.Data.Data) > 0 {
		if err := json.Unmarshal(env.Data.Data, &earnings); err != nil {
			return nil, NewSyncError(ErrCodeNetwork, "malformed earning payload").Wrap(err)
		}
	}

	return &EarningPage{
		Earnings:   earnings,
		Total:      env.Data.Total,
		Page:       env.Data.Page,
		PageSize:   env.Data.PageSize,
		HasMore:    env.Data.HasMore,
		ServerTime: env.ServerTime,
	}, nil
}

func (c *HTTPGatewayClient) fetchPage(ctx context.Context, path string, params FetchParams) (*fetchEnvelope, error) {
	q := url.Values{}
	q.Set("deviceId", c.deviceID)
	q.Set("page", strconv.Itoa(params.Page))
	q.Set("pageSize", strconv.Itoa(params.PageSize))
	if params.LastSyncTime != nil {
		q.Set("lastSyncTime", params.LastSyncTime.UTC().Format(time.RFC3339Nano))
	}
	for k, v := range params.Filters {
		q.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewSyncError(ErrCodeNetwork, "gateway fetch failed").
			WithContext("path", path).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewSyncError(ErrCodeNetwork, fmt.Sprintf("unexpected status code: %d", resp.StatusCode)).
			WithContext("path", path).
			WithContext("body", string(body))
	}

	var env fetchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, NewSyncError(ErrCodeNetwork, "malformed gateway response").
			WithContext("path", path).Wrap(err)
	}
	if !env.Success {
		return nil, NewSyncError(ErrCodeNetwork, "gateway rejected fetch").
			WithContext("path", path).
			WithContext("error", env.Error)
	}

	return &env, nil
}

func (c *HTTPGatewayClient) UploadTasks(ctx context.Context, tasks []*models.Task) (*models.UploadResult, error) {
	return c.upload(ctx, "/api/sync/tasks", tasks)
}

func (c *HTTPGatewayClient) UploadEarnings(ctx context.Context, earnings []*models.Earning) (*models.UploadResult, error) {
	return c.upload(ctx, "/api/sync/earnings", earnings)
}

// upload posts one batch. Partial batch failure comes back in the result,
// not as an error.
func (c *HTTPGatewayClient) upload(ctx context.Context, path string, records interface{}) (*models.UploadResult, error) {
	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewSyncError(ErrCodeNetwork, "gateway upload failed").
			WithContext("path", path).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewSyncError(ErrCodeNetwork, fmt.Sprintf("unexpected status code: %d", resp.StatusCode)).
			WithContext("path", path).
			WithContext("body", string(respBody))
	}

	var env uploadEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, NewSyncError(ErrCodeNetwork, "malformed upload response").
			WithContext("path", path).Wrap(err)
	}

	return &models.UploadResult{
		Uploaded: env.Uploaded,
		Failed:   env.Failed,
		Errors:   env.Errors,
	}, nil
}

// CheckConnectivity probes the gateway health endpoint with a short fixed
// timeout. Diagnostics use this; the sync path relies on fetch and upload
// failing naturally.
func (c *HTTPGatewayClient) CheckConnectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectivityProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return NewSyncError(ErrCodeNetwork, "gateway unreachable").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewSyncError(ErrCodeNetwork, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}

	return nil
}

// GetServerTime reads the gateway clock, used for watermark advancement and
// skew diagnostics.
func (c *HTTPGatewayClient) GetServerTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/time", nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, NewSyncError(ErrCodeNetwork, "server time query failed").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, NewSyncError(ErrCodeNetwork, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}

	var env timeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return time.Time{}, NewSyncError(ErrCodeNetwork, "malformed server time response").Wrap(err)
	}
	if env.ServerTime.IsZero() {
		return time.Time{}, NewSyncError(ErrCodeNetwork, "server time missing from response")
	}

	return env.ServerTime, nil
}

func (c *HTTPGatewayClient) setHeaders(req *http.Request) {
	req.Header.Set("X-Device-ID", c.deviceID)
	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}
}
