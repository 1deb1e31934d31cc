package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"liveclass/internal/lesson"
	"liveclass/internal/session"
	"liveclass/pkg/types"
)

// Registry is the view of the connection registry the API needs for the
// health endpoint.
type Registry interface {
	Stats() map[string]int
}

// Server is the HTTP surface: health, the degraded-mode check query consumed
// by polling-fallback clients, session snapshots, and the lesson
// collaborator endpoints. No business logic lives here, only HTTP handling
// and JSON serialization.
type Server struct {
	store    *session.Store
	registry Registry
	analyzer lesson.Analyzer
	lessons  lesson.Store
	router   *http.ServeMux
}

// NewServer creates the API server and sets up routing.
func NewServer(store *session.Store, registry Registry, analyzer lesson.Analyzer, lessons lesson.Store) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		analyzer: analyzer,
		lessons:  lessons,
		router:   http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/api/lessons", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleLessons))))
	s.router.Handle("/api/lessons/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleLessonByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleSessionByID serves GET /api/sessions/{id} and
// GET /api/sessions/{id}/check.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	sessionID := parts[0]
	if !types.IsValidID(sessionID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		s.getSession(w, sessionID)
	case len(parts) == 2 && parts[1] == "check":
		s.getLatestCheck(w, sessionID)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// SessionSnapshot is the HTTP view of a session.
type SessionSnapshot struct {
	ID               string    `json:"id"`
	Active           bool      `json:"active"`
	ParticipantCount int       `json:"participant_count"`
	CreatedAt        time.Time `json:"created_at"`
}

func (s *Server) getSession(w http.ResponseWriter, sessionID string) {
	var snapshot SessionSnapshot
	err := s.store.View(sessionID, func(sess *types.Session) {
		snapshot = SessionSnapshot{
			ID:               sess.ID,
			Active:           sess.Active,
			ParticipantCount: sess.ParticipantCount(),
			CreatedAt:        sess.CreatedAt,
		}
	})
	if err != nil {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}
	s.sendJSON(w, snapshot, http.StatusOK)
}

// getLatestCheck is the degraded-mode query behind the polling fallback:
// 200 with the open check, 204 when the session is idle, 410 once the
// session has ended so pollers know to stop.
func (s *Server) getLatestCheck(w http.ResponseWriter, sessionID string) {
	var active bool
	var info *types.CheckInfo
	err := s.store.View(sessionID, func(sess *types.Session) {
		active = sess.Active
		if sess.ActiveCheck != nil {
			i := sess.ActiveCheck.Info()
			info = &i
		}
	})
	if err != nil {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}
	if !active {
		s.sendError(w, "Session has ended", http.StatusGone)
		return
	}
	if info == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.sendJSON(w, info, http.StatusOK)
}

// CreateLessonRequest is the upload payload: raw document text plus
// attribution. Analysis happens server-side before the save.
type CreateLessonRequest struct {
	TeacherID string `json:"teacher_id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createLesson(w, r)
	case http.MethodGet:
		s.listLessons(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createLesson(w http.ResponseWriter, r *http.Request) {
	var req CreateLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if !types.IsValidID(req.TeacherID) {
		s.sendError(w, "Invalid teacher_id", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		s.sendError(w, "Title is required", http.StatusBadRequest)
		return
	}

	content, err := s.analyzer.Analyze(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, lesson.ErrEmptyDocument) {
			s.sendError(w, "Document text is empty", http.StatusBadRequest)
			return
		}
		log.Printf("Lesson analysis failed: %v", err)
		s.sendError(w, "Analysis failed", http.StatusInternalServerError)
		return
	}

	saved := &lesson.Lesson{
		TeacherID: req.TeacherID,
		Title:     req.Title,
		Content:   content,
	}
	if err := s.lessons.SaveLesson(r.Context(), saved); err != nil {
		log.Printf("Failed to save lesson: %v", err)
		s.sendError(w, "Failed to save lesson", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, saved, http.StatusCreated)
}

func (s *Server) listLessons(w http.ResponseWriter, r *http.Request) {
	teacherID := r.URL.Query().Get("teacher_id")
	if !types.IsValidID(teacherID) {
		s.sendError(w, "Invalid teacher_id", http.StatusBadRequest)
		return
	}
	lessons, err := s.lessons.ListLessons(r.Context(), teacherID)
	if err != nil {
		log.Printf("Failed to list lessons: %v", err)
		s.sendError(w, "Failed to list lessons", http.StatusInternalServerError)
		return
	}
	if lessons == nil {
		lessons = []*lesson.Lesson{}
	}
	s.sendJSON(w, lessons, http.StatusOK)
}

func (s *Server) handleLessonByID(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/lessons/")
	if id == "" {
		s.sendError(w, "Lesson ID required", http.StatusBadRequest)
		return
	}

	saved, err := s.lessons.GetLesson(r.Context(), id)
	if err != nil {
		if errors.Is(err, lesson.ErrLessonNotFound) {
			s.sendError(w, "Lesson not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to get lesson: %v", err)
		s.sendError(w, "Failed to get lesson", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, saved, http.StatusOK)
}

// HealthResponse reports liveness plus store and registry counters.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Sessions    map[string]int `json:"sessions"`
	Connections map[string]int `json:"connections"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Sessions:    s.store.Stats(),
		Connections: s.registry.Stats(),
	}, http.StatusOK)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, map[string]string{"error": message}, status)
}
