package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewsync/backend/config"
	"github.com/crewsync/backend/internal/models"
	"github.com/crewsync/backend/pkg/redis"
)

// HTTPClient implements Client against the directory's management REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  *tokenSource
	logger  *zap.Logger
}

// NewHTTPClient creates a directory client.
func NewHTTPClient(cfg config.DirectoryConfig, rdb *redis.Client, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  newTokenSource(cfg, rdb, logger),
		logger:  logger,
	}
}

// GetProfile fetches a single profile by directory identifier.
func (c *HTTPClient) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodGet, "/api/v2/profiles/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfileByEmail fetches a single profile by email.
func (c *HTTPClient) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var list []*models.Profile
	path := "/api/v2/profiles?" + url.Values{"email": {email}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// SearchByEntityID returns every profile whose metadata references the entity.
func (c *HTTPClient) SearchByEntityID(ctx context.Context, entityType string, id uuid.UUID) ([]*models.Profile, error) {
	q := url.Values{"type": {entityType}, "entity_id": {id.String()}}
	var list []*models.Profile
	if err := c.do(ctx, http.MethodGet, "/api/v2/profiles/search?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SearchByEntityName returns every profile holding an entity of the given
// type with exactly the given name.
func (c *HTTPClient) SearchByEntityName(ctx context.Context, entityType, name string) ([]*models.Profile, error) {
	q := url.Values{"type": {entityType}, "name": {name}}
	var list []*models.Profile
	if err := c.do(ctx, http.MethodGet, "/api/v2/profiles/search?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CreateProfile provisions a profile for a never-authenticated agent.
func (c *HTTPClient) CreateProfile(ctx context.Context, email, name string) (*models.Profile, error) {
	body := map[string]string{"email": email, "name": name}
	var p models.Profile
	if err := c.do(ctx, http.MethodPost, "/api/v2/profiles", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateMetadata merge-writes the metadata block onto the profile.
func (c *HTTPClient) UpdateMetadata(ctx context.Context, id string, md models.Metadata) (*models.Profile, error) {
	body := map[string]models.Metadata{"metadata": md}
	var p models.Profile
	path := "/api/v2/profiles/" + url.PathEscape(id) + "/metadata"
	if err := c.do(ctx, http.MethodPatch, path, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("directory request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory call %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory response: %w", err)
	}
	return nil
}
