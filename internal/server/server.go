package server

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/rfletcher/taskdeck/internal/events"
	"github.com/rfletcher/taskdeck/internal/handler"
	"github.com/rfletcher/taskdeck/internal/middleware"
	"github.com/rfletcher/taskdeck/internal/realtime"
	"github.com/rfletcher/taskdeck/internal/recurrence"
	"github.com/rfletcher/taskdeck/internal/store"
)

// Config carries the externally supplied server settings.
type Config struct {
	JWTSecret    []byte
	KafkaBrokers []string
}

// Server owns the HTTP surface and the two background workers. Every
// dependency is constructed here and passed down explicitly; there is no
// process-wide state.
type Server struct {
	db         *sql.DB
	hub        *realtime.Hub
	publisher  *events.Publisher
	consumer   *events.RecurrenceConsumer
	gateway    *realtime.Gateway
	taskH      *handler.TaskHandler
	recurringH *handler.RecurringTaskHandler
	auditH     *handler.AuditHandler
	jwtSecret  []byte
	logger     *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	taskStore := store.NewTaskStore(db)
	recurringStore := store.NewRecurringTaskStore(db)
	auditStore := store.NewAuditStore(db)

	publisher := events.NewPublisher(
		events.NewWriter(cfg.KafkaBrokers, events.TopicTaskEvents),
		events.NewWriter(cfg.KafkaBrokers, events.TopicTaskUpdates),
		logger.With("component", "publisher"),
	)

	engine := recurrence.NewEngine(recurringStore, logger.With("component", "recurrence"))
	consumer := events.NewRecurrenceConsumer(
		events.NewGroupReader(cfg.KafkaBrokers, events.TopicTaskEvents, "recurrence-engine"),
		taskStore, auditStore, engine, publisher,
		logger.With("component", "consumer"),
	)

	hub := realtime.NewHub(logger.With("component", "realtime"))
	gateway := realtime.NewGateway(
		events.NewGroupReader(cfg.KafkaBrokers, events.TopicTaskUpdates, "realtime-gateway"),
		hub,
		logger.With("component", "gateway"),
	)

	return &Server{
		db:         db,
		hub:        hub,
		publisher:  publisher,
		consumer:   consumer,
		gateway:    gateway,
		taskH:      handler.NewTaskHandler(taskStore, publisher, logger.With("component", "task")),
		recurringH: handler.NewRecurringTaskHandler(recurringStore, publisher, logger.With("component", "recurring")),
		auditH:     handler.NewAuditHandler(auditStore, logger.With("component", "audit")),
		jwtSecret:  cfg.JWTSecret,
		logger:     logger,
	}
}

// Consumer returns the recurrence consumer for lifecycle management.
func (s *Server) Consumer() *events.RecurrenceConsumer {
	return s.consumer
}

// Gateway returns the realtime gateway for lifecycle management.
func (s *Server) Gateway() *realtime.Gateway {
	return s.gateway
}

// Publisher returns the event publisher for lifecycle management.
func (s *Server) Publisher() *events.Publisher {
	return s.publisher
}

func (s *Server) Router() http.Handler {
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("GET /api/tasks", s.taskH.List)
	apiMux.HandleFunc("POST /api/tasks", s.taskH.Create)
	apiMux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	apiMux.HandleFunc("PUT /api/tasks/{id}", s.taskH.Update)
	apiMux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Delete)
	apiMux.HandleFunc("POST /api/tasks/{id}/complete", s.taskH.Complete)

	apiMux.HandleFunc("GET /api/recurring", s.recurringH.List)
	apiMux.HandleFunc("POST /api/recurring", s.recurringH.Create)
	apiMux.HandleFunc("GET /api/recurring/{id}", s.recurringH.Get)
	apiMux.HandleFunc("DELETE /api/recurring/{id}", s.recurringH.Delete)

	apiMux.HandleFunc("GET /api/audit", s.auditH.List)

	apiMux.HandleFunc("GET /ws", realtime.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	requireAuth := middleware.RequireAuth(s.jwtSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("/", requireAuth(apiMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
