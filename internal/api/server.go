// Package api exposes session operations over HTTP so interactive drivers
// (a web UI, curl, another process) can run an exploration. Handlers may be
// called concurrently; the session heartbeat lock decides who wins.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/codereader/internal/config"
	"github.com/codereader/internal/errs"
	"github.com/codereader/internal/service"
	"github.com/codereader/internal/session"
	"github.com/codereader/internal/store"
)

// Server represents the API server.
type Server struct {
	echo *echo.Echo
	port int
	cfg  *config.Config

	// newReader is swappable so tests can plug in a fake storage client.
	newReader func(cfg *config.Config, repoURL, ref string) (*service.Reader, error)

	mu       sync.Mutex
	sessions map[string]*liveSession

	store *store.SessionStore // optional persistence
}

type liveSession struct {
	machine *session.Machine
	reader  *service.Reader
}

// NewServer creates a new API server. sessionStore may be nil, in which
// case sessions live only in memory.
func NewServer(cfg *config.Config, sessionStore *store.SessionStore) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:      e,
		port:      cfg.API.Port,
		cfg:       cfg,
		newReader: service.NewReader,
		sessions:  make(map[string]*liveSession),
		store:     sessionStore,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.createSession)
	v1.GET("/sessions/:id", s.getSession)
	v1.POST("/sessions/:id/propose", s.proposeNextFile)
	v1.POST("/sessions/:id/understanding", s.recordUnderstanding)
	v1.POST("/sessions/:id/feedback", s.applyFeedback)
	v1.POST("/sessions/:id/question", s.askUser)
	v1.POST("/sessions/:id/answer", s.answerQuestion)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.closeAll()
	return s.echo.Shutdown(ctx)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, live := range s.sessions {
		live.reader.Close()
	}
	s.sessions = make(map[string]*liveSession)
}

func (s *Server) lookup(id string) (*liveSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.sessions[id]
	return live, ok
}

// persist saves the session if a store is configured. Persistence failures
// are logged, not surfaced: the in-memory session is still authoritative.
func (s *Server) persist(c echo.Context, live *liveSession) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(c.Request().Context(), live.machine.Session()); err != nil {
		log.Warn().Err(err).Str("session", live.machine.Session().ID).Msg("failed to persist session")
	}
}

// httpStatus maps the error taxonomy onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrNotAFile), errors.Is(err, errs.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrLockContention):
		return http.StatusConflict
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, errs.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func fail(c echo.Context, err error) error {
	return c.JSON(httpStatus(err), errorResponse{Error: err.Error()})
}

type createSessionRequest struct {
	RepoURL   string `json:"repo_url"`
	Ref       string `json:"ref"`
	Goal      string `json:"goal"`
	ScopeHint string `json:"scope_hint"`
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.RepoURL == "" || req.Goal == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "repo_url and goal are required"})
	}

	reader, err := s.newReader(s.cfg, req.RepoURL, req.Ref)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	machine := reader.OpenSession(s.cfg, req.Goal, req.ScopeHint)
	live := &liveSession{machine: machine, reader: reader}

	s.mu.Lock()
	s.sessions[machine.Session().ID] = live
	s.mu.Unlock()

	s.persist(c, live)

	log.Info().
		Str("session", machine.Session().ID).
		Str("repo", reader.Owner+"/"+reader.Repo).
		Msg("session created")

	return c.JSON(http.StatusCreated, machine.Snapshot())
}

func (s *Server) getSession(c echo.Context) error {
	live, ok := s.lookup(c.Param("id"))
	if !ok {
		return fail(c, errs.NotFound("session "+c.Param("id"), ""))
	}
	return c.JSON(http.StatusOK, live.machine.Snapshot())
}

type proposeRequest struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (s *Server) proposeNextFile(c echo.Context) error {
	live, ok := s.lookup(c.Param("id"))
	if !ok {
		return fail(c, errs.NotFound("session "+c.Param("id"), ""))
	}

	var req proposeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	snap, err := live.machine.ProposeNextFile(c.Request().Context(), session.NextFile{Path: req.Path, Reason: req.Reason})
	if err != nil {
		return fail(c, err)
	}

	s.persist(c, live)
	return c.JSON(http.StatusOK, snap)
}

type understandingRequest struct {
	Text string `json:"text"`
}

func (s *Server) recordUnderstanding(c echo.Context) error {
	live, ok := s.lookup(c.Param("id"))
	if !ok {
		return fail(c, errs.NotFound("session "+c.Param("id"), ""))
	}

	var req understandingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	snap, err := live.machine.RecordUnderstanding(req.Text)
	if err != nil {
		return fail(c, err)
	}

	s.persist(c, live)
	return c.JSON(http.StatusOK, snap)
}

type feedbackRequest struct {
	Action        string `json:"action"`
	Note          string `json:"note"`
	Reason        string `json:"reason"`
	Understanding string `json:"understanding"`
	NextPath      string `json:"next_path"`
}

func (s *Server) applyFeedback(c echo.Context) error {
	live, ok := s.lookup(c.Param("id"))
	if !ok {
		return fail(c, errs.NotFound("session "+c.Param("id"), ""))
	}

	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	var feedback session.Feedback
	var err error
	switch session.FeedbackAction(req.Action) {
	case session.ActionAccept:
		feedback = session.NewAccept(req.Note)
	case session.ActionReject:
		feedback, err = session.NewReject(req.Reason)
	case session.ActionRefine:
		feedback, err = session.NewRefine(req.Understanding, req.Reason, req.NextPath)
	case session.ActionFinish:
		feedback = session.NewFinish()
	default:
		err = fmt.Errorf("unknown feedback action %q", req.Action)
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	snap, err := live.machine.ApplyFeedback(feedback)
	if err != nil {
		return fail(c, err)
	}

	s.persist(c, live)
	return c.JSON(http.StatusOK, snap)
}

type questionRequest struct {
	Question string `json:"question"`
}

func (s *Server) askUser(c echo.Context) error {
	live, ok := s.lookup(c.Param("id"))
	if !ok {
		return fail(c, errs.NotFound("session "+c.Param("id"), ""))
	}

	var req questionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	snap, err := live.machine.AskUser(req.Question)
	if err != nil {
		return fail(c, err)
	}

	s.persist(c, live)
	return c.JSON(http.StatusOK, snap)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) answerQuestion(c echo.Context) error {
	live, ok := s.lookup(c.Param("id"))
	if !ok {
		return fail(c, errs.NotFound("session "+c.Param("id"), ""))
	}

	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	snap, err := live.machine.AnswerQuestion(req.Answer)
	if err != nil {
		return fail(c, err)
	}

	s.persist(c, live)
	return c.JSON(http.StatusOK, snap)
}
