package httpx

import (
	"log/slog"
	"net/http"

	"github.com/draftmill/draftmill/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs   *service.JobService
	Topics *service.TopicService
	Queue  *service.TaskQueueService
	Status *service.StatusService
	Logger *slog.Logger // Logger for request logging and panic recovery (optional)
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs}
	topicHandlers := &TopicHandlers{Svc: services.Topics}
	taskHandlers := &TaskHandlers{Svc: services.Queue}
	statusHandlers := &StatusHandlers{Svc: services.Status}

	registerJobRoutes(mux, jobHandlers)
	registerTopicRoutes(mux, topicHandlers)
	registerTaskRoutes(mux, taskHandlers)
	mux.HandleFunc("GET /api/status", statusHandlers.GetStatus)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return Recover(logger)(Logging(logger)(mux))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/stats", h.JobStats)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", h.JobEvents)
	mux.HandleFunc("POST /api/jobs/{id}/reset", h.ResetJob)
	mux.HandleFunc("POST /api/jobs/{id}/publish", h.PublishJob)
}

func registerTopicRoutes(mux *http.ServeMux, h *TopicHandlers) {
	mux.HandleFunc("POST /api/topics", h.CreateTopic)
	mux.HandleFunc("GET /api/topics", h.ListTopics)
	mux.HandleFunc("POST /api/topics/{id}/approve", h.ApproveTopic)
}

func registerTaskRoutes(mux *http.ServeMux, h *TaskHandlers) {
	mux.HandleFunc("POST /api/tasks", h.CreateTask)
	mux.HandleFunc("GET /api/tasks/pending", h.ListPending)
	mux.HandleFunc("GET /api/tasks/stats", h.TaskStats)
	mux.HandleFunc("POST /api/tasks/reset-stuck", h.ResetStuckTasks)
	mux.HandleFunc("GET /api/tasks/{id}", h.GetTask)
	mux.HandleFunc("POST /api/tasks/{id}/claim", h.ClaimTask)
	mux.HandleFunc("POST /api/tasks/{id}/complete", h.CompleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/fail", h.FailTask)
}
