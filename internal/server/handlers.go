package server

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/imgsearch/internal/indexer"
	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/scanner"
	"github.com/hyperjump/imgsearch/internal/search"
)

// maxUploadBytes bounds a multipart query image.
const maxUploadBytes = 32 << 20

func (s *Server) handleLoadFolder(w http.ResponseWriter, r *http.Request) {
	var req models.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("load folder request", zap.String("path", abs))

	report, err := s.builder.Build(r.Context(), abs)
	switch {
	case err == nil:
	case errors.Is(err, indexer.ErrNoImagesFound):
		s.follow("")
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, fs.ErrNotExist):
		s.respondError(w, http.StatusNotFound, "directory not found")
		return
	case errors.Is(err, scanner.ErrNotDirectory):
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	default:
		s.logger.Error("folder load failed", zap.String("path", abs), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.follow(abs)
	s.respondJSON(w, http.StatusCreated, report.Response())
}

type textSearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req textSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("k", req.K))
	s.search(w, r, &models.SearchQuery{Query: req.Query, Mode: models.ModeText, K: req.K})
}

type imageSearchRequest struct {
	Path string `json:"path"`
	K    int    `json:"k"`
}

// handleSearchImage accepts either a multipart upload in the "image" field
// or a JSON body naming an image file on the server.
func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req imageSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			s.respondError(w, http.StatusBadRequest, "path is required")
			return
		}
		s.search(w, r, &models.SearchQuery{Query: req.Path, Mode: models.ModeImage, K: req.K})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	k, err := parseK(r.FormValue("k"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "image field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	start := time.Now()
	results, err := s.engine.SearchByImageBytes(r.Context(), data, k)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	resp := &models.SearchResponse{
		Query:     header.Filename,
		Mode:      models.ModeImage,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	}
	if sess := s.holder.Current(); sess != nil {
		resp.SessionID = sess.Info.ID
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchName(w http.ResponseWriter, r *http.Request) {
	k, err := parseK(r.URL.Query().Get("k"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.search(w, r, &models.SearchQuery{Query: r.URL.Query().Get("q"), Mode: models.ModeName, K: k})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, query *models.SearchQuery) {
	response, err := s.engine.Search(r.Context(), query)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) respondSearchError(w http.ResponseWriter, err error) {
	if errors.Is(err, search.ErrEmptyQueryText) || errors.Is(err, search.ErrUnreadableQueryImage) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("search failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	img, ok := s.holder.Current().Image(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "image not found")
		return
	}
	http.ServeFile(w, r, img.Path)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.builder.Status(r.Context())
	if s.watch != nil {
		st.WatchedFolder = s.watch.Folder()
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("reset request")
	if err := s.builder.Reset(r.Context()); err != nil {
		s.logger.Error("reset failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.follow("")
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// follow points the watcher at folder; "" stops watching.
func (s *Server) follow(folder string) {
	if s.watch == nil {
		return
	}
	if err := s.watch.Watch(folder); err != nil {
		s.logger.Warn("watch folder failed", zap.String("folder", folder), zap.Error(err))
	}
}

func parseK(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	k, err := strconv.Atoi(v)
	if err != nil || k < 0 {
		return 0, errors.New("k must be a non-negative integer")
	}
	return k, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
