package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/umt-belongings/hub/internal/embedding"
	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/internal/report"
	"github.com/umt-belongings/hub/internal/storage"
	"github.com/umt-belongings/hub/internal/uploads"
	"go.uber.org/zap"
)

// UnavailableMessage is returned with 503 when the extractor is not ready.
const UnavailableMessage = "similarity search temporarily unavailable"

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
	multipartMemory          = 8 << 20
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	posts, err := s.storage.CountPosts(ctx)
	if err != nil {
		s.logger.Error("status: count posts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	withVectors, err := s.storage.CountPostsWithFeatures(ctx)
	if err != nil {
		s.logger.Error("status: count vectors failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	notifications, err := s.storage.CountNotifications(ctx)
	if err != nil {
		s.logger.Error("status: count notifications failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"posts":              posts,
		"posts_with_vectors": withVectors,
		"notifications":      notifications,
	}

	ext := map[string]any{"type": s.config.Embedding.Type}
	if s.extractor != nil {
		ext["name"] = s.extractor.Name()
		ext["ready"] = s.extractor.Ready()
		ext["dimensions"] = s.extractor.Dimensions()
		if t := s.extractor.LoadedAt(); !t.IsZero() {
			ext["loaded_at"] = t
		}
		if err := s.extractor.Err(); err != nil {
			ext["error"] = err.Error()
		}
	}
	resp["extractor"] = ext

	resp["config"] = map[string]any{
		"default_threshold":    s.config.Search.ThresholdOrDefault(),
		"default_limit":        s.config.Search.DefaultLimit,
		"auto_match_threshold": s.config.Search.AutoMatchThresholdOrDefault(),
		"auto_match_limit":     s.config.Search.AutoMatchLimit,
		"auto_match_types":     s.config.Search.AutoMatchTypes,
		"cache_backend":        s.config.Embedding.CacheBackend,
	}
	usage, err := storage.MeasureDiskUsage(
		s.config.Storage.DatabasePath,
		s.config.Storage.BleveIndexPath,
		s.config.Storage.UploadsDir,
	)
	if err != nil {
		s.logger.Warn("status: disk usage unavailable", zap.Error(err))
	} else {
		resp["disk_usage"] = usage
		resp["disk_usage_bytes"] = usage.Total()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleListPosts lists ACTIVE posts. Other statuses are only listed through the
// admin route.
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	s.listPosts(w, r, false)
}

func (s *Server) handleAdminListPosts(w http.ResponseWriter, r *http.Request) {
	s.listPosts(w, r, true)
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request, withStatus bool) {
	q := r.URL.Query()
	query := &models.ListQuery{
		Type:     models.ItemType(q.Get("type")),
		Category: models.Category(q.Get("category")),
		Search:   q.Get("search"),
	}
	if withStatus {
		query.Status = models.PostStatus(q.Get("status"))
	}
	var err error
	if query.Page, err = intParam(q.Get("page")); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid page")
		return
	}
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	list, err := s.engine.ListPosts(r.Context(), query)
	if err != nil {
		s.respondErr(w, "list posts", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.storage.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "get post", err)
		return
	}
	s.respondJSON(w, http.StatusOK, post)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if !s.parseMultipart(w, r, models.MaxImagesPerPost) {
		return
	}
	input := &models.PostInput{
		Type:        models.ItemType(r.FormValue("type")),
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    models.Category(r.FormValue("category")),
		Location:    r.FormValue("location"),
		UserID:      claims.UserID,
	}
	if d := r.FormValue("date"); d != "" {
		date, err := parseDate(d)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid date")
			return
		}
		input.Date = date
	}
	images, err := s.formFiles(r, "images")
	if err != nil {
		s.respondErr(w, "read images", err)
		return
	}
	s.logger.Debug("create post request", zap.String("type", string(input.Type)), zap.Int("images", len(images)))

	created, err := s.indexer.IndexPost(r.Context(), input, images)
	if err != nil {
		s.respondErr(w, "create post", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFrom(r.Context())
	post, err := s.storage.GetPost(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get post", err)
		return
	}
	if post.UserID != claims.UserID && !claims.IsAdmin() {
		s.respondError(w, http.StatusForbidden, "not authorized to update this post")
		return
	}
	var update models.PostUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !claims.IsAdmin() {
		update.Status = nil
	}
	updated, err := s.indexer.UpdatePost(r.Context(), id, &update)
	if err != nil {
		s.respondErr(w, "update post", err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFrom(r.Context())
	post, err := s.storage.GetPost(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get post", err)
		return
	}
	if post.UserID != claims.UserID && !claims.IsAdmin() {
		s.respondError(w, http.StatusForbidden, "not authorized to delete this post")
		return
	}
	s.logger.Debug("delete post request", zap.String("id", id))
	if err := s.indexer.DeletePost(r.Context(), id); err != nil {
		s.respondErr(w, "delete post", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleReindexPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.indexer.Reindex(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "reindex post", err)
		return
	}
	s.respondJSON(w, http.StatusOK, post)
}

func (s *Server) handleArchivePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("archive post request", zap.String("id", id), zap.String("admin", claimsFrom(r.Context()).UserID))
	post, err := s.indexer.ArchivePost(r.Context(), id)
	if err != nil {
		s.respondErr(w, "archive post", err)
		return
	}
	s.respondJSON(w, http.StatusOK, post)
}

func (s *Server) handleFindSimilar(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r, 1) {
		return
	}
	query, err := similarityQuery(r)
	if err != nil {
		s.respondErr(w, "find similar", err)
		return
	}
	files, err := s.formFiles(r, "image")
	if err != nil {
		s.respondErr(w, "read image", err)
		return
	}
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	if err := s.uploads.Validate(files[0]); err != nil {
		s.respondErr(w, "find similar", err)
		return
	}
	resp, err := s.engine.FindSimilar(r.Context(), files[0].Data, query)
	if err != nil {
		s.respondErr(w, "find similar", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSimilarToPost(w http.ResponseWriter, r *http.Request) {
	query, err := similarityQuery(r)
	if err != nil {
		s.respondErr(w, "similar posts", err)
		return
	}
	resp, err := s.engine.SimilarToPost(r.Context(), chi.URLParam(r, "id"), query)
	if err != nil {
		s.respondErr(w, "similar posts", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit == 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	notes, err := s.storage.ListNotifications(r.Context(), claimsFrom(r.Context()).UserID, limit)
	if err != nil {
		s.respondErr(w, "list notifications", err)
		return
	}
	s.respondJSON(w, http.StatusOK, notes)
}

func (s *Server) handleReadNotification(w http.ResponseWriter, r *http.Request) {
	err := s.storage.MarkNotificationRead(r.Context(), claimsFrom(r.Context()).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "read notification", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleReadAllNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := s.storage.MarkAllNotificationsRead(r.Context(), claimsFrom(r.Context()).UserID)
	if err != nil {
		s.respondErr(w, "read notifications", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (s *Server) handleExportPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.storage.AllPosts(r.Context())
	if err != nil {
		s.respondErr(w, "export posts", err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="posts-%s.xlsx"`, time.Now().UTC().Format("20060102")))
	if err := report.WritePosts(w, posts); err != nil {
		s.logger.Error("export failed", zap.Error(err))
	}
}

// parseMultipart parses a multipart body of at most maxFiles uploads plus form fields.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request, maxFiles int) bool {
	limit := s.uploads.MaxBytes()*int64(maxFiles) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return false
	}
	return true
}

// formFiles reads the uploaded files under field. Oversized files are rejected before
// they are read.
func (s *Server) formFiles(r *http.Request, field string) ([]uploads.File, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File[field]
	files := make([]uploads.File, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > s.uploads.MaxBytes() {
			return nil, fmt.Errorf("%w: %s", uploads.ErrTooLarge, fh.Filename)
		}
		data, err := readFileHeader(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, uploads.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func similarityQuery(r *http.Request) (*models.SimilarityQuery, error) {
	q := r.URL.Query()
	query := &models.SimilarityQuery{Type: models.ItemType(q.Get("type"))}
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid threshold", models.ErrInvalidInput)
		}
		query.Threshold = &t
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid limit", models.ErrInvalidInput)
	}
	query.Limit = limit
	return query, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

// respondErr maps domain errors to status codes. Unexpected errors are logged and
// returned as 500.
func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, uploads.ErrNotImage):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, uploads.ErrTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case embedding.IsUnavailable(err):
		s.logger.Warn(op+": extractor unavailable", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, UnavailableMessage)
	case embedding.IsExtractionFailure(err):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
