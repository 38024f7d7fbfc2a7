package atlas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/icholy/digest"
)

const (
	defaultBaseURL = "https://cloud.mongodb.com"
	defaultTimeout = 30 * time.Second
	acceptHeader   = "application/vnd.atlas.2024-08-05+json"

	// Environment variables read when keys are not passed explicitly.
	EnvPublicKey  = "MONGODB_ATLAS_PUBLIC_KEY"
	EnvPrivateKey = "MONGODB_ATLAS_PRIVATE_KEY"
)

// Fields of a federated instance kept when its storage is replaced.
var retainedFields = []string{"cloudProviderConfig", "dataProcessRegion", "name"}

// Client wraps the Atlas Admin API v2 calls used to manage Data Federation.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	minInterval time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient constructs an Atlas API client with digest auth.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, fmt.Errorf("atlas credentials are required (set %s and %s)", EnvPublicKey, EnvPrivateKey)
	}

	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid atlas base url: %w", err)
	}

	intervalMS := cfg.RateLimitMS
	if intervalMS <= 0 {
		intervalMS = 250
	}

	httpClient := &http.Client{
		Transport: &digest.Transport{
			Username:  cfg.PublicKey,
			Password:  cfg.PrivateKey,
			Transport: http.DefaultTransport,
		},
		Timeout: defaultTimeout,
	}

	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		minInterval: time.Duration(intervalMS) * time.Millisecond,
	}, nil
}

// GetCluster returns one Atlas cluster configuration.
func (c *Client) GetCluster(ctx context.Context, projectID, clusterName string) (Cluster, error) {
	if strings.TrimSpace(projectID) == "" {
		return Cluster{}, fmt.Errorf("atlas project id is required")
	}
	if strings.TrimSpace(clusterName) == "" {
		return Cluster{}, fmt.Errorf("atlas cluster name is required")
	}

	path := fmt.Sprintf("/api/atlas/v2/groups/%s/clusters/%s", url.PathEscape(projectID), url.PathEscape(clusterName))
	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return Cluster{}, err
	}
	cluster := Cluster{
		ID:             firstString(raw, "id"),
		Name:           firstString(raw, "name"),
		MongoDBVersion: firstString(raw, "mongoDBVersion"),
		StateName:      firstString(raw, "stateName"),
	}
	if cluster.Name == "" {
		cluster.Name = clusterName
	}
	return cluster, nil
}

// GetFederatedInstance returns the Data Federation instance (tenant) of a project.
func (c *Client) GetFederatedInstance(ctx context.Context, projectID, tenant string) (FederatedInstance, error) {
	path, err := federationPath(projectID, tenant)
	if err != nil {
		return nil, err
	}
	var inst FederatedInstance
	if err := c.do(ctx, http.MethodGet, path, nil, &inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// UpdateFederatedInstance patches a Data Federation instance and returns the
// updated configuration.
func (c *Client) UpdateFederatedInstance(ctx context.Context, projectID, tenant string, inst FederatedInstance) (FederatedInstance, error) {
	path, err := federationPath(projectID, tenant)
	if err != nil {
		return nil, err
	}
	var updated FederatedInstance
	if err := c.do(ctx, http.MethodPatch, path, inst, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Retarget points a Data Federation instance at a single cluster and applies it.
func (c *Client) Retarget(ctx context.Context, projectID, tenant, clusterName string) (FederatedInstance, error) {
	current, err := c.GetFederatedInstance(ctx, projectID, tenant)
	if err != nil {
		return nil, fmt.Errorf("get federated instance %s: %w", tenant, err)
	}
	updated, err := c.UpdateFederatedInstance(ctx, projectID, tenant, RetargetStorage(current, projectID, clusterName))
	if err != nil {
		return nil, fmt.Errorf("update federated instance %s: %w", tenant, err)
	}
	return updated, nil
}

// RetargetStorage returns a copy of inst reduced to its cloud provider
// config, region and name, with storage replaced by one Atlas store for the
// cluster mapped as *.* and read from secondaries.
func RetargetStorage(inst FederatedInstance, projectID, clusterName string) FederatedInstance {
	out := FederatedInstance{}
	for _, key := range retainedFields {
		if v, ok := inst[key]; ok {
			out[key] = v
		}
	}
	out["storage"] = Storage{
		Databases: []StorageDatabase{{
			Name: "*",
			Collections: []StorageCollection{{
				Name:        "*",
				DataSources: []DataSource{{StoreName: clusterName}},
			}},
			Views: []any{},
		}},
		Stores: []Store{{
			Provider:    "atlas",
			ClusterName: clusterName,
			Name:        clusterName,
			ProjectID:   projectID,
			ReadPreference: ReadPreference{
				Mode:    "secondary",
				TagSets: []any{},
			},
		}},
	}
	return out
}

func federationPath(projectID, tenant string) (string, error) {
	if strings.TrimSpace(projectID) == "" {
		return "", fmt.Errorf("atlas project id is required")
	}
	if strings.TrimSpace(tenant) == "" {
		return "", fmt.Errorf("data federation tenant name is required")
	}
	return fmt.Sprintf("/api/atlas/v2/groups/%s/dataFederation/%s", url.PathEscape(projectID), url.PathEscape(tenant)), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.waitRateLimit(ctx); err != nil {
		return err
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + path

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode atlas request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", "shapespectre")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if len(raw) > 0 {
			var payload map[string]any
			if err := json.Unmarshal(raw, &payload); err == nil {
				apiErr.Code = firstString(payload, "errorCode", "code")
				apiErr.Message = firstString(payload, "detail", "error", "reason", "message")
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode atlas response: %w", err)
	}
	return nil
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	if c.minInterval <= 0 {
		return nil
	}

	for {
		c.mu.Lock()
		wait := c.minInterval - time.Since(c.lastRequest)
		if wait <= 0 {
			c.lastRequest = time.Now()
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := toString(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		if math.Trunc(x) == x {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}
