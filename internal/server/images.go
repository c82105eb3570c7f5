package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/render"
)

// Dashboard thumbnails fit into this box.
const (
	thumbnailWidth  = 160
	thumbnailHeight = 160
)

// uploadRequest is the JSON upload body.
type uploadRequest struct {
	Name      string `json:"name"`
	DataURL   string `json:"dataUrl"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// ImageSummary is one dashboard row. It never carries the full payload.
type ImageSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	ViewCount int    `json:"viewCount"`
	IsViewed  bool   `json:"isViewed"`
	Status    string `json:"status"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
	Link      string `json:"link"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// ImageDetail is a summary plus the access log, newest first.
type ImageDetail struct {
	ImageSummary
	Logs []ir.AccessLogEntry `json:"logs"`
}

func (s *Server) summarize(rec ir.ImageRecord, withThumbnail bool) ImageSummary {
	sum := ImageSummary{
		ID:        rec.ID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
		ViewCount: rec.ViewCount,
		IsViewed:  rec.IsViewed,
		Status:    rec.Status(),
		ExpiresAt: rec.ExpiresAt,
		Link:      s.shareLink(rec.ID),
	}
	if withThumbnail {
		thumb, err := s.renderer.Thumbnail(rec.DataURL, thumbnailWidth, thumbnailHeight)
		if err != nil {
			slog.Warn("thumbnail failed", "image_id", rec.ID, "error", err)
		} else {
			sum.Thumbnail = thumb
		}
	}
	return sum
}

// handleUpload stores a new image. The body is either JSON
// ({name, dataUrl, expiresAt}) or a multipart form with a "file" part.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	req, err := s.decodeUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteAPIError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "upload exceeds size limit")
			return
		}
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "name is required")
		return
	}
	if err := render.ValidateDataURL(req.DataURL); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidImage, err.Error())
		return
	}

	rec := ir.NewImageRecord(s.ids.Generate(), req.Name, req.DataURL, s.now().UnixMilli())
	rec.ExpiresAt = req.ExpiresAt
	if err := s.records.Create(r.Context(), rec); err != nil {
		writeStoreError(w, r, err)
		return
	}

	slog.Info("image shared", "image_id", rec.ID, "name", rec.Name)
	w.Header().Set("Location", "/api/images/"+rec.ID)
	writeJSON(w, http.StatusCreated, s.summarize(rec, false))
}

func (s *Server) decodeUpload(r *http.Request) (uploadRequest, error) {
	var req uploadRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return req, err
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return req, err
		}
		req.Name = r.FormValue("name")
		if req.Name == "" {
			req.Name = header.Filename
		}
		mediaType, _, _ := strings.Cut(http.DetectContentType(data), ";")
		req.DataURL = render.EncodeDataURL(mediaType, data)
		return req, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// handleList returns every record, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.ListAll(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	records = ir.NewestFirst(records)
	out := make([]ImageSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, s.summarize(rec, true))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDetail returns one record with its access log, newest first. The
// ETag is the record content digest, so a new access invalidates it.
func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, found, err := s.records.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !found {
		WriteAPIError(w, http.StatusNotFound, CodeNotFound, "no image with id "+id)
		return
	}

	digest, err := ir.RecordDigest(rec)
	if err != nil {
		slog.Error("record digest failed", "image_id", id, "error", err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "failed to encode record")
		return
	}
	etag := `"` + digest + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeJSON(w, http.StatusOK, ImageDetail{
		ImageSummary: s.summarize(rec, true),
		Logs:         ir.LogsNewestFirst(rec.Logs),
	})
}
