// Package backend is the HTTP client for the imagery export and inference
// server and for the model registry.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"

	"sentinel-viewer/internal/config"
)

// Endpoint paths on the backend server
const (
	PathExportTIF     = "/export_tif"
	PathDownloadDrive = "/download_tif_from_drive"
	PathPredict       = "/predict_and_show"
	PathUploadModel   = "/flask_upload_model"

	StatusSuccess = "success"
)

// Client talks to the backend server. Requests have no timeout; callers
// cancel through the context.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client with system proxy support
func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}
	return NewClientWithHTTP(baseURL, &http.Client{Transport: transport})
}

// NewClientWithHTTP creates a backend client on a caller-supplied http.Client
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// BaseURL returns the server root the client posts to
func (c *Client) BaseURL() string {
	return c.baseURL
}

type exportRequest struct {
	Coords [][2]float64 `json:"coords"`
	Year   string       `json:"year"`
}

// ExportResponse is the decoded body of an export call
type ExportResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ExportTIF asks the backend to export imagery clipped to the ring
func (c *Client) ExportTIF(ctx context.Context, coords orb.Ring, year string) (*ExportResponse, error) {
	const op = "export"

	pairs := make([][2]float64, len(coords))
	for i, p := range coords {
		pairs[i] = [2]float64{p.Lon(), p.Lat()}
	}

	body, err := json.Marshal(exportRequest{Coords: pairs, Year: year})
	if err != nil {
		return nil, fmt.Errorf("failed to encode export request: %w", err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, PathExportTIF, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// The body is decoded whatever the HTTP status
	var out ExportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if out.Status != StatusSuccess {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("status %q (HTTP %d)", out.Status, resp.StatusCode)
		}
		return &out, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	log.Printf("[Backend] Export succeeded: %s", out.Filename)
	return &out, nil
}

type downloadRequest struct {
	PublicLink string `json:"public_link"`
	Filename   string `json:"filename"`
}

// DownloadFromDrive fetches a shared file through the backend and returns its bytes
func (c *Client) DownloadFromDrive(ctx context.Context, link, filename string) ([]byte, error) {
	const op = "download"

	body, err := json.Marshal(downloadRequest{PublicLink: link, Filename: filename})
	if err != nil {
		return nil, fmt.Errorf("failed to encode download request: %w", err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, PathDownloadDrive, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to read file: %w", err)}
	}
	log.Printf("[Backend] Downloaded %s (%d bytes)", filename, len(data))
	return data, nil
}

// Prediction is the rendered inference image
type Prediction struct {
	Data        []byte
	ContentType string
}

// PredictAndShow uploads a raster and returns the backend's prediction image
func (c *Client) PredictAndShow(ctx context.Context, filename string, file io.Reader, modelName string) (*Prediction, error) {
	const op = "predict"

	body, contentType, err := multipartBody(filename, file, map[string]string{"model_name": modelName})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, op, http.MethodPost, PathPredict, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to read image: %w", err)}
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	log.Printf("[Backend] Prediction with model %s returned %d bytes (%s)", modelName, len(data), ct)
	return &Prediction{Data: data, ContentType: ct}, nil
}

// UploadModel sends a model artifact with its metadata and returns the decoded reply
func (c *Client) UploadModel(ctx context.Context, filename string, file io.Reader, meta config.ModelMetadata) (map[string]interface{}, error) {
	const op = "upload"

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	body, contentType, err := multipartBody(filename, file, map[string]string{"metadata": string(metaJSON)})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, op, http.MethodPost, PathUploadModel, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	log.Printf("[Backend] Uploaded model %s", filename)
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

// multipartBody builds a form with a "file" part followed by text fields
func multipartBody(filename string, file io.Reader, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", filename, err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// checkStatus turns a non-2xx response into a RemoteError, preferring the
// JSON "error" field of the body
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	return &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}
