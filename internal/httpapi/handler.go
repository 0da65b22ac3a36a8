// Package httpapi exposes the small HTTP surface that sits in front of the
// WebSocket orchestrator: a token-issuance endpoint that creates a job
// record and hands back the credential a client presents over the socket.
package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/sandboxlabs/execcore/internal/check"
	"github.com/sandboxlabs/execcore/internal/config"
	"github.com/sandboxlabs/execcore/internal/jobstore"
	"github.com/sandboxlabs/execcore/internal/log"
)

// supportedLanguages is the closed set the validator and executor both
// recognize; a request for anything else is rejected here rather than
// deferred to the WebSocket handshake.
var supportedLanguages = map[string]bool{
	"python":     true,
	"javascript": true,
	"c":          true,
	"cpp":        true,
	"rust":       true,
}

// filenamePattern allows a single path segment of conventional source
// filename characters: no separators, no leading dot-dot, no whitespace.
var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// createRequest is the body of a job-creation request.
type createRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Filename string `json:"filename"`
}

// createResponse is returned on success, matching the wire contract
// exactly: jobId, jobToken, and an RFC 3339 expiry.
type createResponse struct {
	JobID     string `json:"jobId"`
	JobToken  string `json:"jobToken"`
	ExpiresAt string `json:"expiresAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the job-creation endpoint.
type Handler struct {
	store  jobstore.Store
	cfg    config.Config
	logger log.Logger
}

// NewHandler builds a Handler backed by store.
func NewHandler(store jobstore.Store, cfg config.Config) *Handler {
	return &Handler{store: store, cfg: cfg, logger: log.New("httpapi")}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/jobs", h.handleCreate)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if reason, ok := validateCreate(req, h.cfg); !ok {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	job, token, err := h.store.Create(r.Context(), req.Code, req.Language, req.Filename)
	if err != nil {
		h.logger.Errorf("create job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{
		JobID:     job.ID,
		JobToken:  token.Token,
		ExpiresAt: token.ExpiresAt.Format(rfc3339),
	})
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// validateCreate applies the boundary checks the store itself does not:
// language membership, code size, and filename shape.
func validateCreate(req createRequest, cfg config.Config) (reason string, ok bool) {
	chk := check.New()
	chk.Assert(supportedLanguages[req.Language], "unsupported language")
	chk.Assert(len(req.Code) > 0, "source must not be empty")
	chk.Assert(int64(len(req.Code)) <= cfg.Execution.MaxCodeBytes, "source exceeds maximum allowed size")
	chk.Assert(req.Filename != "" && filenamePattern.MatchString(req.Filename) &&
		!strings.HasPrefix(req.Filename, ".."),
		"filename must be a single path segment of letters, digits, '.', '_', or '-', not starting with '..'")

	if err := chk.Err(); err != nil {
		return err.Error(), false
	}
	return "", true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
