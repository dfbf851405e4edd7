package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/fmuoria/cv-triage/internal/agent"
	"github.com/fmuoria/cv-triage/internal/config"
	"github.com/fmuoria/cv-triage/internal/export"
	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/ingestion"
	"github.com/fmuoria/cv-triage/internal/models"
	"github.com/fmuoria/cv-triage/internal/store"
)

const maxUploadMemory = 32 << 20

// Server handles HTTP requests
type Server struct {
	agent        *agent.Agent
	settings     *config.Settings
	settingsPath string
	mu           sync.RWMutex
	validate     *validator.Validate
}

// NewServer creates a new API server. Selection changes are saved to
// settingsPath when it is set.
func NewServer(a *agent.Agent, settings *config.Settings, settingsPath string) *Server {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	return &Server{
		agent:        a,
		settings:     settings,
		settingsPath: settingsPath,
		validate:     validator.New(),
	}
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /candidates", s.handleCandidates)
	mux.HandleFunc("GET /candidates/{id}/explain", s.handleExplain)
	mux.HandleFunc("PATCH /candidates/{id}/status", s.handleStatus)
	mux.HandleFunc("PUT /candidates/{id}/tags", s.handleTags)
	mux.HandleFunc("GET /facets", s.handleFacets)
	mux.HandleFunc("GET /selection", s.handleGetSelection)
	mux.HandleFunc("PUT /selection", s.handlePutSelection)
	mux.HandleFunc("GET /verticals", s.handleVerticals)
	mux.HandleFunc("GET /presets", s.handlePresets)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.loggingMiddleware(mux)
}

// Selection returns the current rule selection
func (s *Server) Selection() filters.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Selection
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "cv-triage",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"GET /candidates":               "Filtered, deduplicated and ranked candidates",
			"GET /candidates/{id}/explain":  "Why a record is in or out of a view",
			"PATCH /candidates/{id}/status": "Set the recruiter stage",
			"PUT /candidates/{id}/tags":     "Replace tags",
			"GET /facets":                   "Filter dropdown values",
			"GET|PUT /selection":            "Current vertical or preset",
			"GET /verticals":                "Known verticals",
			"GET /presets":                  "Known presets",
			"POST /ingest":                  "Upload CVs or fetch them from the inbox",
			"POST /process":                 "Extract fields of pending records",
			"GET /export":                   "Excel workbook of a view",
			"GET /health":                   "Health check",
		},
	})
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// handleCandidates runs the pipeline for the query string
func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	res, err := s.agent.Candidates(r.Context(), q)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res.List(s.agent.Pipeline().Now()))
}

// handleFacets returns the dropdown values of a view
func (s *Server) handleFacets(w http.ResponseWriter, r *http.Request) {
	view, err := filters.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		s.respondErr(w, &ValidationError{Field: "view", Reason: err.Error()})
		return
	}

	res, err := s.agent.Candidates(r.Context(), filters.Query{View: view, Selection: s.Selection()})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res.Facets)
}

// handleExplain reports the rejection reason of one record
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	view, err := filters.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		s.respondErr(w, &ValidationError{Field: "view", Reason: err.Error()})
		return
	}

	c, reason, err := s.agent.Explain(r.Context(), r.PathValue("id"), view, s.Selection())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"candidate":   c,
		"qualifies":   reason == filters.ReasonNone,
		"reason":      reason,
		"description": reason.Describe(),
	})
}

type statusRequest struct {
	Status models.CandidateStatus `json:"status" validate:"required"`
}

// handleStatus sets the recruiter stage of a record
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	if !req.Status.Valid() {
		s.respondErr(w, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", req.Status)})
		return
	}

	id := r.PathValue("id")
	if err := s.agent.UpdateStatus(r.Context(), id, req.Status); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondRecord(w, r, id)
}

type tagsRequest struct {
	Tags []string `json:"tags" validate:"max=50,dive,max=64"`
}

// handleTags replaces the tags of a record
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if err := s.decode(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	id := r.PathValue("id")
	if err := s.agent.SetTags(r.Context(), id, req.Tags); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondRecord(w, r, id)
}

// handleGetSelection returns the selection and what it resolves to
func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	s.respondSelection(w, s.Selection())
}

// handlePutSelection replaces the selection and saves it
func (s *Server) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	var sel filters.Selection
	if err := s.decode(r, &sel); err != nil {
		s.respondErr(w, err)
		return
	}
	if sel.Mode == "" {
		sel.Mode = filters.ModeOff
	}
	if err := sel.Validate(); err != nil {
		s.respondErr(w, &ValidationError{Field: "selection", Reason: err.Error()})
		return
	}

	s.mu.Lock()
	previous := s.settings.Selection
	s.settings.Selection = sel
	if s.settingsPath != "" {
		if err := s.settings.SaveTo(s.settingsPath); err != nil {
			s.settings.Selection = previous
			s.mu.Unlock()
			s.respondErr(w, err)
			return
		}
	}
	s.mu.Unlock()

	log.Info().Str("mode", string(sel.Mode)).Str("vertical", sel.VerticalID).Str("preset", sel.PresetID).Msg("Selection changed")
	s.respondSelection(w, sel)
}

func (s *Server) respondSelection(w http.ResponseWriter, sel filters.Selection) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"selection": sel,
		"rules":     s.agent.Pipeline().Registry().Resolve(sel),
	})
}

// handleVerticals lists the registered verticals
func (s *Server) handleVerticals(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.agent.Pipeline().Registry().Verticals())
}

// handlePresets lists the registered presets
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.agent.Pipeline().Registry().Presets())
}

// handleIngest stores uploaded CVs, or fetches them from the inbox when
// gmail_query is set, as pending records
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.respondErr(w, &ValidationError{Field: "form", Reason: fmt.Sprintf("failed to parse form: %v", err)})
		return
	}

	if query := r.FormValue("gmail_query"); query != "" {
		records, err := s.agent.IngestInbox(r.Context(), query)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"records": records})
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.respondErr(w, &ValidationError{Field: "files", Reason: "no files uploaded"})
		return
	}

	sourceEmail := r.FormValue("source_email")
	if sourceEmail != "" {
		if err := s.validate.Var(sourceEmail, "email"); err != nil {
			s.respondErr(w, &ValidationError{Field: "source_email", Reason: "must be an email address"})
			return
		}
	}

	records := make([]models.CandidateRecord, 0, len(files))
	skipped := make([]string, 0)
	now := time.Now()
	for _, fileHeader := range files {
		if !ingestion.IsSupported(fileHeader.Filename) {
			log.Warn().Str("file", fileHeader.Filename).Msg("Skipping unsupported file type")
			skipped = append(skipped, fileHeader.Filename)
			continue
		}

		file, err := fileHeader.Open()
		if err != nil {
			s.respondPartialIngest(w, fmt.Errorf("failed to open uploaded file %s: %w", fileHeader.Filename, err), records, skipped)
			return
		}
		rec, err := s.agent.Ingest(r.Context(), fileHeader.Filename, file, sourceEmail, now)
		file.Close()
		if err != nil {
			s.respondPartialIngest(w, err, records, skipped)
			return
		}
		records = append(records, rec)
	}

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"records": records,
		"skipped": skipped,
	})
}

// handleProcess extracts the fields of every pending record
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	summary, err := s.agent.ProcessPending(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// handleExport streams the view as an Excel workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	res, err := s.agent.Candidates(r.Context(), q)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	now := s.agent.Pipeline().Now()
	filename := fmt.Sprintf("candidates-%s-%s.xlsx", res.View, now.Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := export.Write(w, res, now); err != nil {
		log.Error().Err(err).Msg("Failed to write export")
	}
}

// parseQuery reads view, dashboard filters and limit from the query string
func (s *Server) parseQuery(r *http.Request) (filters.Query, error) {
	values := r.URL.Query()

	view, err := filters.ParseView(values.Get("view"))
	if err != nil {
		return filters.Query{}, &ValidationError{Field: "view", Reason: err.Error()}
	}

	q := filters.Query{
		View:      view,
		Selection: s.Selection(),
		Filters: filters.DashboardFilters{
			Search:    values.Get("search"),
			Skills:    multi(values["skill"]),
			Countries: multi(values["country"]),
			Sources:   multi(values["source"]),
			Statuses:  multi(values["status"]),
			Tags:      multi(values["tag"]),
			Day:       values.Get("day"),
		},
	}

	if day := q.Filters.Day; day != "" && !strings.EqualFold(day, filters.DayToday) {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return filters.Query{}, &ValidationError{Field: "day", Reason: "must be today or YYYY-MM-DD"}
		}
	}

	if limit := values.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filters.Query{}, &ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
		}
		q.Limit = n
	}
	return q, nil
}

// multi accepts repeated parameters and comma-separated values
func multi(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// decode reads a JSON body and validates it
func (s *Server) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ValidationError{Field: "body", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := s.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return &ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (s *Server) respondRecord(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.agent.Store().Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// respondErr maps err to a status code and sends it
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	s.respondJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

// respondPartialIngest reports a failed upload batch together with the
// records already stored, so clients do not upload them twice
func (s *Server) respondPartialIngest(w http.ResponseWriter, err error, records []models.CandidateRecord, skipped []string) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("stored", len(records)).Msg("Upload batch failed")
	}
	s.respondJSON(w, status, map[string]interface{}{
		"error":   err.Error(),
		"records": records,
		"skipped": skipped,
	})
}

// ValidationError reports a bad request parameter or body
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// HTTPStatus maps domain errors to response codes
func HTTPStatus(err error) int {
	var validation *ValidationError
	var cfg *config.ConfigError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation), errors.As(err, &cfg), errors.Is(err, ingestion.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, ingestion.ErrNoToken):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}
