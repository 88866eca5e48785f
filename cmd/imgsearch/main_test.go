package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/imgsearch/internal/config"
	"github.com/hyperjump/imgsearch/internal/embedding"
	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/search"
	"github.com/hyperjump/imgsearch/internal/server"
)

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"red car", "--k", "3"},
			expected: []string{"--k", "3", "red car"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"--name", "holiday"},
			expected: []string{"--name", "holiday"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"red car"},
			expected: []string{"red car"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-output", "json"},
			expected: []string{"-output", "json", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reorderArgs(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("reorderArgs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"sunset"}, "sunset"},
		{"multiple words", []string{"a", "red", "car"}, "a red car"},
		{"single quoted phrase", []string{"a red car"}, "a red car"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSearchRequest(t *testing.T) {
	q, err := searchRequest([]string{"red", "car"}, "", false, 3)
	if err != nil || q.Mode != models.ModeText || q.Query != "red car" || q.K != 3 {
		t.Errorf("text query = %+v, %v", q, err)
	}
	q, err = searchRequest([]string{"holiday"}, "", true, 0)
	if err != nil || q.Mode != models.ModeName || q.Query != "holiday" {
		t.Errorf("name query = %+v, %v", q, err)
	}
	q, err = searchRequest(nil, "query.jpg", true, 0)
	if err != nil || q.Mode != models.ModeImage || !filepath.IsAbs(q.Query) {
		t.Errorf("image query = %+v, %v", q, err)
	}
	if _, err := searchRequest(nil, "", false, 0); !errors.Is(err, search.ErrEmptyQueryText) {
		t.Errorf("empty query err = %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path || cfg.Server.Port != 9999 {
		t.Errorf("resolved = %s, port = %d", resolved, cfg.Server.Port)
	}

	if _, _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("a missing explicit config should fail")
	}
}

func TestLoadConfig_defaultPathPrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("search:\n  default_k: 9\n"), 0600); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PWD", dir)
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != filepath.Join(dir, "config.yaml") || cfg.Search.DefaultK != 9 {
		t.Errorf("resolved = %s, default_k = %d", resolved, cfg.Search.DefaultK)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Storage:   config.StorageConfig{Dir: t.TempDir()},
		Embedding: config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 16},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func photoFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "sunset.png"), color.RGBA{250, 120, 30, 255})
	writePNG(t, filepath.Join(dir, "forest.png"), color.RGBA{20, 140, 40, 255})
	return dir
}

func TestNewEmbedder(t *testing.T) {
	cfg := testConfig(t)
	emb, err := newEmbedder(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer emb.Close()
	if emb.Dimensions() != 16 {
		t.Errorf("dimensions = %d, want 16", emb.Dimensions())
	}
	if _, ok := emb.(*embedding.CachedEmbedder); !ok {
		t.Errorf("embedder should be cached, got %T", emb)
	}
}

func TestNewEmbedder_missingModelIsModelFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = config.ProviderONNX
	cfg.Embedding.VisualModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	cfg.Embedding.TextModelPath = filepath.Join(t.TempDir(), "missing-text.onnx")
	emb, err := newEmbedder(cfg, zap.NewNop())
	if !errors.Is(err, embedding.ErrModelFailure) {
		t.Fatalf("expected ErrModelFailure, got %v", err)
	}
	if emb != nil {
		t.Errorf("embedder = %T, want nil", emb)
	}

	cfg.Embedding.Provider = "clip-server"
	if _, err := newEmbedder(cfg, zap.NewNop()); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestInitializeComponents_defaultProviderWithoutModels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = config.ProviderONNX
	components, err := initializeComponents(context.Background(), cfg, zap.NewNop(), nil)
	if !errors.Is(err, embedding.ErrModelFailure) {
		t.Fatalf("expected ErrModelFailure, got %v", err)
	}
	if components != nil {
		components.Close()
		t.Error("components should be nil on failure")
	}
}

func TestInitializeComponents_restoresLastSession(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	folder := photoFolder(t)

	first, err := initializeComponents(ctx, cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Holder.Current() != nil {
		t.Fatal("fresh store should have no session")
	}
	report, err := first.Builder.Build(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := initializeComponents(ctx, cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	sess := second.Holder.Current()
	if sess == nil {
		t.Fatal("session not restored")
	}
	if sess.Info.ID != report.Session.Info.ID || sess.Info.Folder != folder || sess.Count() != 2 {
		t.Errorf("restored session = %+v, count %d", sess.Info, sess.Count())
	}
	resp, err := second.Engine.Search(ctx, &models.SearchQuery{Query: filepath.Join(folder, "forest.png"), Mode: models.ModeImage, K: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Name != "forest.png" {
		t.Errorf("image search after restore = %+v", resp.Results)
	}

	if err := second.Builder.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	second.Close()
	third, err := initializeComponents(ctx, cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer third.Close()
	if third.Holder.Current() != nil {
		t.Error("reset should not leave a session to restore")
	}
}

func TestAPIClient(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer components.Close()
	srv := server.NewServer(components.Engine, components.Builder, components.Holder, &cfg.Server, zap.NewNop(), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := newAPIClient(ts.URL + "/")
	folder := photoFolder(t)

	idx, err := client.index(folder)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Indexed != 2 || idx.Session.Folder != folder {
		t.Errorf("index response = %+v", idx)
	}

	resp, err := client.search(&models.SearchQuery{Query: "sunset over the sea", Mode: models.ModeText, K: 1})
	if err != nil || resp.Total != 1 {
		t.Errorf("text search = %+v, %v", resp, err)
	}
	resp, err = client.search(&models.SearchQuery{Query: "forest", Mode: models.ModeName})
	if err != nil || resp.Total == 0 || resp.Results[0].Name != "forest.png" {
		t.Errorf("name search = %+v, %v", resp, err)
	}
	resp, err = client.search(&models.SearchQuery{Query: filepath.Join(folder, "sunset.png"), Mode: models.ModeImage, K: 2})
	if err != nil || resp.Total != 2 || resp.Results[0].Name != "sunset.png" {
		t.Errorf("image search = %+v, %v", resp, err)
	}

	st, err := client.status()
	if err != nil || st.Images != 2 || st.Session == nil {
		t.Errorf("status = %+v, %v", st, err)
	}

	_, err = client.index(t.TempDir())
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("empty folder err = %v", err)
	}

	if err := client.reset(); err != nil {
		t.Fatal(err)
	}
	if st, err := client.status(); err != nil || st.Session != nil {
		t.Errorf("status after reset = %+v, %v", st, err)
	}
}

func TestWriteConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := writeConfigFile(path, false, true); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Provider != config.ProviderMock || cfg.Search.DefaultK != 5 {
		t.Errorf("written config = %+v", cfg.Embedding)
	}

	if err := writeConfigFile(path, false, false); err == nil {
		t.Error("existing file should not be overwritten without force")
	}
	if err := writeConfigFile(path, true, false); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Provider != config.ProviderONNX {
		t.Errorf("provider = %s, want onnx", cfg.Embedding.Provider)
	}
}
