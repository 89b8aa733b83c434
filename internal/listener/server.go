// Package listener exposes the bot over HTTP: health and metrics, a manual
// trigger for the git changes run, and two endpoints other hosts use to
// get their own notices published.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/mastodon"
	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/XaviArnaus/janitor/internal/publisher"
	"github.com/XaviArnaus/janitor/internal/sysinfo"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Monitor is the part of monitoring.Service the listener needs
type Monitor interface {
	RunGitChanges(ctx context.Context) error
	PublishNotice(ctx context.Context, msg *models.Message) (*mastodon.PostResult, error)
	ReportSystemInfo(ctx context.Context, report sysinfo.Report) (bool, error)
	GetMetrics() string
}

// Server is the HTTP listener
type Server struct {
	monitor Monitor
	server  *http.Server
}

// NewServer creates the listener bound to cfg.Host:cfg.Port
func NewServer(cfg config.ListenConfig, monitor Monitor) *Server {
	s := &Server{monitor: monitor}
	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router returns the routes of the listener
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.HandleFunc("/metrics", s.metricsHandler).Methods("GET")
	router.HandleFunc("/trigger", s.triggerHandler).Methods("POST")
	router.HandleFunc("/message", s.messageHandler).Methods("POST")
	router.HandleFunc("/sysinfo", s.sysinfoHandler).Methods("POST")

	return router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	logrus.Infof("HTTP server starting on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for the running ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.monitor.GetMetrics()))
}

func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.monitor.RunGitChanges(context.Background()); err != nil {
			logrus.Errorf("Manual git changes trigger failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"message": "Git changes run triggered"})
}

// messageHandler publishes a notice sent by another host. The form carries
// message and hostname, and optionally summary and message_type.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form: %v", err)
		return
	}

	text := r.PostForm.Get("message")
	hostname := r.PostForm.Get("hostname")
	if text == "" || hostname == "" {
		writeError(w, http.StatusBadRequest, "message and hostname are required")
		return
	}

	severity := models.SeverityNone
	if value := r.PostForm.Get("message_type"); value != "" {
		parsed, err := models.ParseSeverity(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		severity = parsed
	}

	msg := models.NewMessage("", fmt.Sprintf("from %s:\n\n%s", hostname, text), severity)
	if summary := r.PostForm.Get("summary"); summary != "" {
		msg = models.NewMessage(fmt.Sprintf("%s:\n\n%s", hostname, summary), text, severity)
	}

	logrus.Infof("Received a %s message from %s", severity, hostname)
	if _, err := s.monitor.PublishNotice(r.Context(), msg); err != nil {
		writePublishError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Published"})
}

type sysinfoRequest struct {
	SysData map[string]any `json:"sys_data"`
}

// sysinfoHandler takes the metrics collected by another host and publishes
// them when a threshold is crossed.
func (s *Server) sysinfoHandler(w http.ResponseWriter, r *http.Request) {
	var req sysinfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	if len(req.SysData) == 0 {
		writeError(w, http.StatusBadRequest, "sys_data is required")
		return
	}

	report, err := sysinfo.ReportFromMap(req.SysData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	published, err := s.monitor.ReportSystemInfo(r.Context(), report)
	if err != nil {
		writePublishError(w, err)
		return
	}

	if !published {
		writeJSON(w, http.StatusOK, map[string]string{"message": "No thresholds crossed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Published"})
}

func writePublishError(w http.ResponseWriter, err error) {
	var pubErr *publisher.PublishError
	if errors.As(err, &pubErr) && pubErr.Requeued {
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "Queued for a later retry"})
		return
	}
	logrus.Errorf("Publishing failed: %v", err)
	writeError(w, http.StatusBadGateway, "publishing failed: %v", err)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}
