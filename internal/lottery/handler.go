package lottery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/jswmusik/jobbeli/internal/model"
)

// RunResult is the response to a successful run.
type RunResult struct {
	RunID      string          `json:"run_id"`
	Status     model.RunStatus `json:"status"`
	Seed       int64           `json:"seed"`
	Candidates int             `json:"candidates"`
	Matched    int             `json:"matched"`
	Reserves   int             `json:"reserves"`
	Digest     string          `json:"report_digest"`
}

// NewRunResult summarises a finished run.
func NewRunResult(run *model.LotteryRun) RunResult {
	return RunResult{
		RunID:      run.ID,
		Status:     run.Status,
		Seed:       run.Seed,
		Candidates: run.CandidatesCount,
		Matched:    run.MatchedCount,
		Reserves:   run.UnmatchedCount,
		Digest:     run.ReportDigest,
	}
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler exposes a Service over HTTP. The run route expects an x-user-id
// header forwarded by the gateway; it is recorded as the run's executor.
//
// Routes:
//
//	POST /groups/{id}/run-lottery   → run the lottery, optional body {"seed": n}
//	GET  /groups/{id}/preview       → counts a run would draw from
//	GET  /lottery-runs[?group=id]   → run history, newest first
//	GET  /lottery-runs/{id}         → one run with its audit report
type Handler struct {
	svc *Service
	// runLimit wraps the run-lottery route; nil leaves it unlimited.
	runLimit func(http.Handler) http.Handler
}

// NewHandler returns a configured Handler. runLimit may be nil.
func NewHandler(svc *Service, runLimit func(http.Handler) http.Handler) *Handler {
	return &Handler{svc: svc, runLimit: runLimit}
}

// RegisterRoutes mounts all lottery-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	run := http.Handler(http.HandlerFunc(h.runLottery))
	if h.runLimit != nil {
		run = h.runLimit(run)
	}
	mux.HandleFunc("/groups/", func(w http.ResponseWriter, r *http.Request) {
		h.handleGroupAction(w, r, run)
	})
	mux.HandleFunc("/lottery-runs", h.handleRuns)
	mux.HandleFunc("/lottery-runs/", h.handleRun)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleGroupAction handles POST /groups/{id}/run-lottery and GET /groups/{id}/preview
func (h *Handler) handleGroupAction(w http.ResponseWriter, r *http.Request, run http.Handler) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[1] == "" {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	r.SetPathValue("group", parts[1])

	switch parts[2] {
	case "run-lottery":
		if r.Method != http.MethodPost {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		run.ServeHTTP(w, r)
	case "preview":
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.preview(w, r)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", parts[2]), http.StatusNotFound)
	}
}

// handleRuns handles GET /lottery-runs
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	runs, err := h.svc.ListRuns(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		writeError(w, "listRuns", err)
		return
	}
	jsonOK(w, runs)
}

// handleRun handles GET /lottery-runs/{id}
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/lottery-runs/")
	if id == "" || strings.Contains(id, "/") {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, "getRun", err)
		return
	}
	jsonOK(w, run)
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) runLottery(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	var body struct {
		Seed *int64 `json:"seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "body must be empty or {\"seed\": <integer>}", http.StatusBadRequest)
		return
	}

	run, err := h.svc.RunLottery(r.Context(), RunRequest{
		GroupID:    r.PathValue("group"),
		ExecutedBy: userID,
		Seed:       body.Seed,
	})
	var rf *RunFailedError
	if errors.As(err, &rf) {
		log.Printf("[lottery] run %s failed: %v", rf.RunID, rf.Err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  rf.Err.Error(),
			"run_id": rf.RunID,
			"status": string(model.RunFailed),
		})
		return
	}
	if err != nil {
		writeError(w, "runLottery", err)
		return
	}
	jsonOK(w, NewRunResult(run))
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Preview(r.Context(), r.PathValue("group"))
	if err != nil {
		writeError(w, "preview", err)
		return
	}
	jsonOK(w, p)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, op string, err error) {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrRunInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	default:
		log.Printf("[lottery] %s error: %v", op, err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
