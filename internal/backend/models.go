package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// ModelRegistry lists and deletes models held by the model registry service
type ModelRegistry struct {
	baseURL    string
	httpClient *http.Client
}

// NewModelRegistry creates a registry client
func NewModelRegistry(baseURL string, hc *http.Client) *ModelRegistry {
	if hc == nil {
		hc = &http.Client{Transport: &http.Transport{Proxy: http.ProxyFromEnvironment}}
	}
	return &ModelRegistry{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// Model is one registry entry. Fields the registry adds are kept in Extra.
type Model struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Framework   string                 `json:"framework,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

// ListModels returns the registered models
func (m *ModelRegistry) ListModels(ctx context.Context) ([]Model, error) {
	const op = "list models"

	resp, err := m.do(ctx, op, http.MethodGet, "/models")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	var raw []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to decode models: %w", err)}
	}

	models := make([]Model, 0, len(raw))
	for _, r := range raw {
		models = append(models, modelFromMap(r))
	}
	return models, nil
}

// DeleteModel removes a model by ID
func (m *ModelRegistry) DeleteModel(ctx context.Context, id string) error {
	const op = "delete model"

	resp, err := m.do(ctx, op, http.MethodDelete, "/models/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(op, resp)
}

func (m *ModelRegistry) do(ctx context.Context, op, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

func modelFromMap(r map[string]interface{}) Model {
	str := func(k string) string {
		switch v := r[k].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprintf("%v", v)
		}
		return ""
	}

	mod := Model{
		ID:          str("id"),
		Name:        str("name"),
		Description: str("description"),
		Framework:   str("framework"),
		Extra:       map[string]interface{}{},
	}
	if mod.ID == "" {
		mod.ID = str("model_id")
	}
	if tags, ok := r["tags"].([]interface{}); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				mod.Tags = append(mod.Tags, s)
			}
		}
	}
	for k, v := range r {
		switch k {
		case "id", "model_id", "name", "description", "framework", "tags":
		default:
			mod.Extra[k] = v
		}
	}
	return mod
}
