package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"web3nst/config"
	"web3nst/middleware"
	"web3nst/models"
	"web3nst/store"
	"web3nst/utils"
)

const uploadSuccessMessage = "File uploaded successfully."

// ServerHandler handles HTTP requests for the upload server
type ServerHandler struct {
	store  *store.DiskStore
	config *config.Config
}

// NewServerHandler creates a new ServerHandler writing into the configured upload directory
func NewServerHandler(cfg *config.Config) (*ServerHandler, error) {
	diskStore, err := store.NewDiskStore(cfg.Upload.Dir, store.NewNamer(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upload directory %s: %w", cfg.Upload.Dir, err)
	}
	return NewServerHandlerWithStore(cfg, diskStore), nil
}

// NewServerHandlerWithStore creates a ServerHandler around an existing store
func NewServerHandlerWithStore(cfg *config.Config, diskStore *store.DiskStore) *ServerHandler {
	return &ServerHandler{
		store:  diskStore,
		config: cfg,
	}
}

// Router builds the routed, middleware wrapped handler
func (h *ServerHandler) Router() http.Handler {
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return middleware.LoggingMiddleware(
			middleware.TimeoutMiddleware(h.config.Server.WriteTimeout)(
				middleware.RecoverMiddleware(handler),
			),
		)
	}

	r := mux.NewRouter()
	r.Handle("/upload", withMiddleware(h.UploadHandler)).Methods(http.MethodPost)
	r.Handle("/health", withMiddleware(h.HealthCheckHandler)).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed", r.Method+" is not supported on "+r.URL.Path)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusNotFound, "Not found", r.URL.Path)
	})

	// every response, errors included, carries the CORS header
	return middleware.CORSMiddleware(r)
}

// UploadHandler accepts exactly one file under the configured field and
// stores it on disk.
func (h *ServerHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.RequestID(ctx)
	field := h.config.Upload.FieldName

	reader, err := r.MultipartReader()
	if err != nil {
		log.Error().
			Str("request_id", requestID).
			Err(err).
			Msg("Failed to parse multipart form")
		utils.RespondWithError(w, http.StatusBadRequest, "Failed to parse form", err.Error())
		return
	}

	var stored []models.UploadedFile
	fail := func(status int, message string, err error) {
		for _, f := range stored {
			h.store.Remove(ctx, f)
		}
		log.Error().
			Str("request_id", requestID).
			Int("status", status).
			Err(err).
			Msg(message)
		utils.RespondWithError(w, status, message, err.Error())
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(http.StatusBadRequest, "Failed to parse form", err)
			return
		}

		// plain form values are not files
		if part.FileName() == "" {
			part.Close()
			continue
		}

		if part.FormName() != field || len(stored) > 0 {
			part.Close()
			fail(http.StatusBadRequest, "Unexpected field",
				fmt.Errorf("%w: %q (expected a single file under %q)", ErrUnexpectedField, part.FormName(), field))
			return
		}

		file, err := h.store.Save(ctx, part.FormName(), part.FileName(), part)
		part.Close()
		if err != nil {
			fail(http.StatusInternalServerError, "Failed to save file", err)
			return
		}
		stored = append(stored, file)

		// the timeout middleware has already answered; drop what was written
		if err := ctx.Err(); err != nil {
			fail(http.StatusGatewayTimeout, "Request timeout", err)
			return
		}
	}

	if len(stored) == 0 {
		fail(http.StatusBadRequest, "No file uploaded", fmt.Errorf("%w: field %q is required", ErrMissingFile, field))
		return
	}

	file := stored[0]
	switch h.config.Upload.ResponseMode {
	case config.ResponseModeJSON:
		utils.RespondWithJSON(w, http.StatusOK, models.UploadResponse{
			Message:  uploadSuccessMessage,
			FilePath: file.Path,
		})
	default:
		log.Debug().
			Str("request_id", requestID).
			Str("location", h.config.Upload.RedirectURL).
			Msg("Redirecting after upload")
		http.Redirect(w, r, h.config.Upload.RedirectURL, http.StatusFound)
	}
}

// HealthCheckHandler provides a simple health check endpoint
func (h *ServerHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}
