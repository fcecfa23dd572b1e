// Package api implements the Teal Entry API (spec §6): HTTP handlers for
// new-session, resume, get-output, and set-executable, plus a /status
// endpoint. Grounded on pkg/fpm/handler/handler.go's
// parse-request/call-backend/format-response shape, translated from FastCGI
// to net/http since this repository's transport is HTTP, not FastCGI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tealrun/teal/controller"
	"github.com/tealrun/teal/errs"
	"github.com/tealrun/teal/invoker"
	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/store"
	"github.com/tealrun/teal/value"
)

// Server wires the Controller into HTTP handlers. One Server per worker
// process, matching cmd/tealworker's single Controller instance.
type Server struct {
	ctrl      *controller.Controller
	backend   store.Backend
	startedAt time.Time
	pollEvery time.Duration
	pool      *invoker.Pool // optional; nil when the worker uses a non-local Invoker
}

// NewServer builds a Server. pollEvery governs how often wait_for_finish
// re-checks session state; the teacher's dynamicScaler ticks once a second,
// but an Entry API caller waiting on a VM cycle needs a tighter poll.
func NewServer(ctrl *controller.Controller, backend store.Backend) *Server {
	return &Server{ctrl: ctrl, backend: backend, startedAt: time.Now(), pollEvery: 20 * time.Millisecond}
}

// WithPool attaches the in-process invoker pool so /status can report its
// occupancy, mirroring pkg/fpm/status.StatusHandler's pool-stats wiring.
// Remote-dispatch workers (invoker.Remote) have no pool to attach.
func (s *Server) WithPool(p *invoker.Pool) *Server {
	s.pool = p
	return s
}

// Routes registers every Entry API handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", s.handleNewSession)
	mux.HandleFunc("POST /sessions/resume", s.handleResume)
	mux.HandleFunc("GET /sessions/output", s.handleGetOutput)
	mux.HandleFunc("POST /executables", s.handleSetExecutable)
	mux.HandleFunc("GET /status", s.handleStatus)
}

type newSessionRequest struct {
	Function      string        `json:"function"`
	Args          []requestArg  `json:"args"`
	Code          string        `json:"code,omitempty"`
	WaitForFinish bool          `json:"wait_for_finish,omitempty"`
	CheckPeriod   float64       `json:"check_period,omitempty"` // seconds
	Timeout       float64       `json:"timeout,omitempty"`      // seconds
}

// requestArg is the wire shape of one value.Value argument: a kind tag plus
// whichever payload field applies. Only the atom kinds a caller can supply
// from outside the VM are accepted -- a caller can never hand in a
// func-ref or future-ref, those only ever originate inside the VM.
type requestArg struct {
	Kind string `json:"kind"`
	Int  int64  `json:"int,omitempty"`
	Str  string `json:"str,omitempty"`
	Bool bool   `json:"bool,omitempty"`
}

func (a requestArg) toValue() (value.Value, error) {
	switch a.Kind {
	case "int":
		return value.Int(a.Int), nil
	case "string":
		return value.String(a.Str), nil
	case "bool":
		return value.Bool(a.Bool), nil
	default:
		return value.Value{}, errs.NewTypeError("unsupported argument kind %q", a.Kind)
	}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id"`
	Finished  bool   `json:"finished"`
	Result    any    `json:"result,omitempty"`
}

// handleNewSession implements "new-session" (spec §6).
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req newSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewTypeError("malformed request body: %v", err))
		return
	}

	args := make([]value.Value, len(req.Args))
	for i, a := range req.Args {
		v, err := a.toValue()
		if err != nil {
			writeError(w, err)
			return
		}
		args[i] = v
	}

	// The compiler frontend that would turn req.Code into a
	// teal/bytecode.Executable is out of scope (spec §1 Non-goals). req.Code
	// is not read: every new session runs the worker's configured default
	// executable ref, and Function names a symbol in that executable.
	execRef := defaultExecutableRef
	sess, err := s.ctrl.NewSession(r.Context(), execRef, req.Function, args)
	if err != nil {
		writeError(w, err)
		return
	}

	if !sess.Finished && req.WaitForFinish {
		sess, err = s.waitForFinish(r.Context(), sess.ID, req.Timeout)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeSession(w, topLevelThreadID(sess), sess)
}

type resumeRequest struct {
	SessionID string `json:"session_id"`
	VMID      int    `json:"vmid"` // thread id to resume, per spec §6
}

type resumeResponse struct {
	SessionID string `json:"session_id"`
	VMID      int    `json:"vmid"`
	Finished  bool   `json:"finished"`
	Result    any    `json:"result,omitempty"`
}

// handleResume implements "resume" (spec §6): runs one more VM cycle on an
// already-suspended thread.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewTypeError("malformed request body: %v", err))
		return
	}

	if err := s.ctrl.RunCycle(r.Context(), req.SessionID, req.VMID); err != nil {
		writeError(w, err)
		return
	}

	locked, err := s.backend.Lock(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer locked.Unlock()
	sess := locked.Session()

	resp := resumeResponse{SessionID: sess.ID, VMID: req.VMID, Finished: sess.Finished}
	if sess.Finished {
		resp.Result = renderValue(sess.Result)
	}
	writeJSON(w, http.StatusOK, resp)
}

type outputResponse struct {
	Output     []string `json:"output"`
	Exceptions []*string `json:"exceptions"`
	Events     []string `json:"events"`
}

// handleGetOutput implements "get-output" (spec §6).
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, errs.NewTypeError("No session ID"))
		return
	}

	locked, err := s.backend.Lock(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer locked.Unlock()
	sess := locked.Session()

	resp := outputResponse{
		Output:     make([]string, len(sess.Threads)),
		Exceptions: make([]*string, len(sess.Threads)),
		Events:     []string{},
	}
	for i, t := range sess.Threads {
		resp.Output[i] = t.Stdout
		if t.HasException {
			msg := t.Exception
			resp.Exceptions[i] = &msg
		}
		for _, p := range t.Probe {
			resp.Events = append(resp.Events, p)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type setExecutableRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// handleSetExecutable implements "set-executable" (spec §6): it overwrites a
// specific session's pending source via store.Locked.PutRawExecutable. The
// actual compile step belongs to the out-of-scope parser/compiler frontend,
// so "Error compiling code" is unreachable here; this handler still owns the
// existence check and the write-back, the way the teacher's handler owns
// validating SCRIPT_FILENAME before handing off to the compiler.
func (s *Server) handleSetExecutable(w http.ResponseWriter, r *http.Request) {
	var req setExecutableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewTypeError("malformed request body: %v", err))
		return
	}
	if req.Content == "" {
		writeError(w, errs.NewTypeError("No Teal code"))
		return
	}
	if req.SessionID == "" {
		writeError(w, errs.NewTypeError("No session ID"))
		return
	}

	ctx := r.Context()
	locked, err := s.backend.Lock(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, errs.NewNotFoundError("Couldn't find that session"))
			return
		}
		writeError(w, errs.NewStorageError("Error saving code", err))
		return
	}
	defer locked.Unlock()

	if err := locked.PutRawExecutable(ctx, req.Content); err != nil {
		writeError(w, errs.NewStorageError("Error saving code", err))
		return
	}
	if err := locked.Save(ctx); err != nil {
		writeError(w, errs.NewStorageError("Error saving code", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type statusResponse struct {
	Uptime          string `json:"uptime"`
	Workers         int    `json:"workers,omitempty"`
	ActiveWorkers   int    `json:"active_workers,omitempty"`
	IdleWorkers     int    `json:"idle_workers,omitempty"`
	QueueLen        int    `json:"queue_len,omitempty"`
	QueueCap        int    `json:"queue_cap,omitempty"`
	AcceptedJobs    uint64 `json:"accepted_jobs,omitempty"`
}

// handleStatus implements the worker status endpoint (SPEC_FULL.md §4),
// modeled on pkg/fpm/status.StatusHandler's pool/idle/active/total JSON
// rendering, adapted from OS process counts to goroutine pool occupancy.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Uptime: humanize.RelTime(s.startedAt, time.Now(), "", "ago")}
	if s.pool != nil {
		st := s.pool.Stats()
		resp.Workers = st.Workers
		resp.ActiveWorkers = st.ActiveWorkers
		resp.IdleWorkers = st.IdleWorkers
		resp.QueueLen = st.QueueLen
		resp.QueueCap = st.QueueCap
		resp.AcceptedJobs = st.AcceptedJobs
	}
	writeJSON(w, http.StatusOK, resp)
}

// waitForFinish polls the session until it finishes or timeoutSeconds
// elapses (0 means no timeout), implementing spec §8 scenario 6.
func (s *Server) waitForFinish(ctx context.Context, sessionID string, timeoutSeconds float64) (*session.Session, error) {
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		locked, err := s.backend.Lock(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		sess := locked.Session()
		finished := sess.Finished
		locked.Unlock()
		if finished {
			return sess, nil
		}

		select {
		case <-ctx.Done():
			return nil, errs.NewTimeout(sessionID, humanize.RelTime(time.Now().Add(-time.Duration(timeoutSeconds*float64(time.Second))), time.Now(), "", ""))
		case <-ticker.C:
		}
	}
}

func topLevelThreadID(sess *session.Session) int {
	for _, t := range sess.Threads {
		if t.IsTopLevel {
			return t.ID
		}
	}
	return -1
}

func renderValue(v value.Value) any {
	switch v.Kind {
	case value.KindInt:
		return v.AsInt()
	case value.KindFloat:
		return v.AsFloat()
	case value.KindString, value.KindSymbol:
		return v.AsString()
	case value.KindBool:
		return v.AsBool()
	default:
		return v.String()
	}
}

func writeSession(w http.ResponseWriter, threadID int, sess *session.Session) {
	resp := sessionResponse{SessionID: sess.ID, ThreadID: threadID, Finished: sess.Finished}
	if sess.Finished {
		resp.Result = renderValue(sess.Result)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := 500
	kind := "InternalError"
	if te, ok := err.(errs.Error); ok {
		status = te.HTTPStatus()
		kind = te.Kind()
	}
	writeJSON(w, status, map[string]string{"error": kind, "message": err.Error()})
}

// defaultExecutableRef is the worker's configured default session
// executable, set at startup via teal/config. cmd/tealworker assigns it
// during boot. set-executable does not change it, nor the ref of an
// existing session: it only stores pending source on that session.
var defaultExecutableRef = "default"

// SetDefaultExecutableRef lets cmd/tealworker inject the configured default
// ref at startup.
func SetDefaultExecutableRef(ref string) { defaultExecutableRef = ref }
