// Package api serves the session REST endpoints and mounts the real-time
// channel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/lo"

	"discussionhub/internal/bus"
	"discussionhub/internal/websocket"
	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

const maxBodyBytes = 1 << 20

// Sessions is the session registry surface the API drives.
type Sessions interface {
	CreateSession(ctx context.Context, req *types.Session) (*types.Session, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListSessions(ctx context.Context) ([]*types.Session, error)
	Transcript(ctx context.Context, sessionID string) ([]*types.Message, error)
	End(ctx context.Context, sessionID string) (*types.SessionAnalysis, error)
	Cancel(ctx context.Context, sessionID string) error
	AnalyzeAndComplete(ctx context.Context, sessionID string, transcript []*types.Message, roster []types.RosterEntry) (*types.SessionAnalysis, error)
}

// Turns publishes generated AI turns.
type Turns interface {
	Take(ctx context.Context, sessionID, aiParticipantID, prompt string) (*types.Message, error)
}

// Rooms reports live room occupancy.
type Rooms interface {
	Members(roomID string) []string
	Stats() bus.Stats
}

// Connections reports live socket counts.
type Connections interface {
	Stats() websocket.Stats
}

// HealthChecker probes the backing store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators of Server. WebSocket is mounted at GET /ws
// when set.
type Deps struct {
	Sessions    Sessions
	Turns       Turns
	Generator   interfaces.ResponseGenerator
	Rooms       Rooms
	Connections Connections
	Health      HealthChecker
	WebSocket   http.HandlerFunc
	Logger      *slog.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	router  *http.ServeMux
	handler http.Handler
	started time.Time
}

// NewServer creates a Server and registers its routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		logger:  logger.With("component", "api"),
		router:  http.NewServeMux(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := func(h http.HandlerFunc) http.Handler { return s.jsonMiddleware(h) }

	s.router.Handle("POST /api/sessions", api(s.createSession))
	s.router.Handle("GET /api/sessions", api(s.listSessions))
	s.router.Handle("GET /api/sessions/{id}", api(s.getSession))
	s.router.Handle("GET /api/sessions/{id}/messages", api(s.listMessages))
	s.router.Handle("POST /api/sessions/{id}/end", api(s.endSession))
	s.router.Handle("POST /api/sessions/{id}/cancel", api(s.cancelSession))
	s.router.Handle("POST /api/sessions/{id}/turns", api(s.takeTurn))
	s.router.Handle("POST /api/ai/generate-response", api(s.generateResponse))
	s.router.Handle("POST /api/ai/analyze-session", api(s.analyzeSession))
	s.router.Handle("GET /health", api(s.healthCheck))
	s.router.Handle("GET /api/health", api(s.healthCheck))

	if s.deps.WebSocket != nil {
		s.router.HandleFunc("GET /ws", s.deps.WebSocket)
	}

	s.handler = s.corsMiddleware(s.router)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type createSessionRequest struct {
	Title         string             `json:"title"`
	Description   string             `json:"description"`
	Type          types.SessionType  `json:"type"`
	ScheduledTime time.Time          `json:"scheduledTime"`
	Duration      int                `json:"duration"`
	CreatedBy     string             `json:"createdBy"`
	UserID        string             `json:"userId"`
	Participants  types.Participants `json:"participants"`
}

type sessionSummary struct {
	*types.Session
	ConnectionCount int `json:"connectionCount"`
}

type turnRequest struct {
	AIParticipantID string `json:"aiParticipantId"`
	Prompt          string `json:"prompt"`
}

type generateRequest struct {
	Prompt          string           `json:"prompt"`
	ParticipantRole types.AIRole     `json:"participantRole"`
	Context         []*types.Message `json:"context"`
}

type generateResponse struct {
	Response string       `json:"response"`
	Role     types.AIRole `json:"role"`
}

type analyzeRequest struct {
	SessionID    string              `json:"sessionId"`
	Messages     []*types.Message    `json:"messages"`
	Participants []types.RosterEntry `json:"participants"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Database    string          `json:"database"`
	Rooms       bus.Stats       `json:"rooms"`
	Connections websocket.Stats `json:"connections"`
	Uptime      string          `json:"uptime"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = req.UserID
	}

	session, err := s.deps.Sessions.CreateSession(r.Context(), &types.Session{
		Title:           req.Title,
		Description:     req.Description,
		Type:            req.Type,
		ScheduledTime:   req.ScheduledTime,
		DurationMinutes: req.Duration,
		CreatedBy:       createdBy,
		Participants:    req.Participants,
	})
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Sessions.ListSessions(r.Context())
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lo.Map(sessions, func(session *types.Session, _ int) sessionSummary {
		return s.summarize(session)
	}))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.summarize(session))
}

func (s *Server) summarize(session *types.Session) sessionSummary {
	summary := sessionSummary{Session: session}
	if s.deps.Rooms != nil && !session.Status.IsTerminal() {
		summary.ConnectionCount = len(s.deps.Rooms.Members(session.RoomID))
	}
	return summary
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Sessions.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.deps.Sessions.End(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Sessions.Cancel(r.Context(), id); err != nil {
		s.sendError(w, err)
		return
	}
	session, err := s.deps.Sessions.GetSession(r.Context(), id)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) takeTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.deps.Turns.Take(r.Context(), r.PathValue("id"), req.AIParticipantID, req.Prompt)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) generateResponse(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}
	utterance, err := s.deps.Generator.Generate(r.Context(), req.ParticipantRole, req.Prompt, req.Context)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, generateResponse{Response: utterance.Content, Role: utterance.Role})
}

func (s *Server) analyzeSession(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		s.sendError(w, fmt.Errorf("%w: sessionId is required", types.ErrValidation))
		return
	}
	for _, entry := range req.Participants {
		if err := entry.Validate(); err != nil {
			s.sendError(w, err)
			return
		}
	}

	analysis, err := s.deps.Sessions.AnalyzeAndComplete(r.Context(), req.SessionID, req.Messages, req.Participants)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "error: " + err.Error()
		}
	}
	if s.deps.Rooms != nil {
		resp.Rooms = s.deps.Rooms.Stats()
	}
	if s.deps.Connections != nil {
		resp.Connections = s.deps.Connections.Stats()
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Code:    http.StatusBadRequest,
			Message: "invalid JSON: " + err.Error(),
		})
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrSessionClosed), errors.Is(err, types.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: err.Error(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response failed", "error", err)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
