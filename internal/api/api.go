package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/user-provisioner/internal/model"
	obs "example.com/user-provisioner/internal/observability"
	"example.com/user-provisioner/internal/queue"
	"example.com/user-provisioner/internal/roster"
	"example.com/user-provisioner/internal/store"
	"example.com/user-provisioner/internal/tenant"
)

const DefaultMaxUploadBytes = 10 << 20

// Archiver keeps a copy of every accepted upload.
type Archiver interface {
	ArchiveUpload(company, name string, data []byte) (string, error)
}

// RunReader looks up stored run reports.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.Report, error)
}

type Deps struct {
	Queue    queue.Client
	Archiver Archiver
	// Companies, when set, rejects uploads for unknown companies.
	Companies tenant.Resolver
	Runs      RunReader
	Metrics   http.Handler
	Logger    *zap.Logger
	MaxBytes  int64
}

type Handler struct {
	deps Deps
	mux  chi.Router
}

// NewHandler creates the ingestion API.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxBytes <= 0 {
		d.MaxBytes = DefaultMaxUploadBytes
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	h := &Handler{deps: d, mux: r}
	h.routes()
	return h
}

// Router returns the underlying http.Handler.
func (h *Handler) Router() http.Handler { return h.mux }

func (h *Handler) routes() {
	h.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	h.mux.Post("/companies/{company}/uploads", h.upload)
	if h.deps.Runs != nil {
		h.mux.Get("/runs/{id}", h.runByID)
	}
	if h.deps.Metrics != nil {
		h.mux.Method(http.MethodGet, "/metrics", h.deps.Metrics)
	}
}

type uploadResponse struct {
	UploadID string `json:"upload_id"`
	Company  string `json:"company"`
	Users    int    `json:"users"`
	Archived string `json:"archived,omitempty"`
}

// upload accepts a roster either as the raw request body or as the "file"
// part of a multipart form, archives it and queues it for provisioning.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	company := strings.TrimSpace(chi.URLParam(r, "company"))
	log := h.deps.Logger.With(obs.Company(company), zap.String("request_id", middleware.GetReqID(r.Context())))
	if company == "" {
		writeError(w, http.StatusBadRequest, "company required")
		return
	}
	if h.deps.Companies != nil {
		if _, err := h.deps.Companies.Resolve(r.Context(), company); err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				writeError(w, http.StatusNotFound, "unknown company")
				return
			}
			log.Error("company lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxBytes)
	name, data, err := readUpload(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	users := roster.Parse(string(data))
	if users.Len() == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no valid users in upload")
		return
	}

	resp := uploadResponse{UploadID: uuid.NewString(), Company: company, Users: users.Len()}
	if h.deps.Archiver != nil {
		path, err := h.deps.Archiver.ArchiveUpload(company, name, data)
		if err != nil {
			log.Error("archive failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
		resp.Archived = path
	}
	if h.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	if err := queue.PublishMessage(r.Context(), h.deps.Queue, model.Message{Company: company, CSV: string(data)}); err != nil {
		log.Error("publish failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not queue upload")
		return
	}
	log.Info("upload queued", zap.String("upload_id", resp.UploadID), zap.Int("users", resp.Users))
	writeJSON(w, http.StatusAccepted, resp)
}

func readUpload(r *http.Request) (string, []byte, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, err
		}
		if len(data) == 0 {
			return "", nil, errors.New("empty upload")
		}
		return "upload.csv", data, nil
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", nil, err
		}
		return "", nil, errors.New("file field required")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	return hdr.Filename, data, nil
}

func (h *Handler) runByID(w http.ResponseWriter, r *http.Request) {
	rep, err := h.deps.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		h.deps.Logger.Error("run lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*model.Report
		Counts model.Counts `json:"counts"`
	}{rep, rep.Counts()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
