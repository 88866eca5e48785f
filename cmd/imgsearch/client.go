package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/imgsearch/internal/models"
)

// apiClient talks to a running imgsearch server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(serverURL string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(serverURL, "/"),
		// folder loads embed every image before answering
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *apiClient) index(folder string) (*models.IndexResponse, error) {
	var out models.IndexResponse
	err := c.doJSON(http.MethodPost, "/api/v1/folders", models.IndexRequest{Path: folder}, http.StatusCreated, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) search(query *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	var err error
	switch query.Mode {
	case models.ModeName:
		v := url.Values{"q": {query.Query}}
		if query.K > 0 {
			v.Set("k", strconv.Itoa(query.K))
		}
		err = c.doJSON(http.MethodGet, "/api/v1/search/name?"+v.Encode(), nil, http.StatusOK, &out)
	case models.ModeImage:
		return c.searchImage(query.Query, query.K)
	default:
		body := map[string]any{"query": query.Query, "k": query.K}
		err = c.doJSON(http.MethodPost, "/api/v1/search", body, http.StatusOK, &out)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// searchImage uploads the image so the server need not share our filesystem.
func (c *apiClient) searchImage(path string, k int) (*models.SearchResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if k > 0 {
		if err := mw.WriteField("k", strconv.Itoa(k)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+"/api/v1/search/image", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out models.SearchResponse
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) status() (*models.Status, error) {
	var out models.Status
	if err := c.doJSON(http.MethodGet, "/api/v1/status", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) reset() error {
	return c.doJSON(http.MethodDelete, "/api/v1/index", nil, http.StatusOK, nil)
}

func (c *apiClient) doJSON(method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, want, out)
}

func (c *apiClient) do(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError is a non-success response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &apiError{Status: resp.StatusCode, Message: msg}
}
