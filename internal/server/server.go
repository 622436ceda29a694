package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	app "github.com/kode4food/stepwise"
	"github.com/kode4food/stepwise/internal/archive"
	"github.com/kode4food/stepwise/internal/engine"
	"github.com/kode4food/stepwise/internal/store"
	"github.com/kode4food/stepwise/pkg/api"
)

type (
	// Server implements the HTTP API server for the workflow service
	Server struct {
		manager *engine.Manager
		store   *store.Store
		hub     *EventHub
	}

	// EventHub fans Manager lifecycle events out to WebSocket clients
	EventHub struct {
		topic topic.Topic[engine.Event]
		prod  topic.Producer[engine.Event]
	}
)

var (
	ErrListSchedules     = errors.New("failed to list schedules")
	ErrGetSchedule       = errors.New("failed to get schedule")
	ErrHibernateSchedule = errors.New("failed to hibernate schedule")
	ErrWakeSchedule      = errors.New("failed to wake schedule")
)

// NewServer creates a new HTTP API server
func NewServer(m *engine.Manager, s *store.Store, hub *EventHub) *Server {
	return &Server{
		manager: m,
		store:   s,
		hub:     hub,
	}
}

// NewEventHub creates an EventHub with no connected clients
func NewEventHub() *EventHub {
	t := caravan.NewTopic[engine.Event]()
	return &EventHub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Listener forwards lifecycle events to connected WebSocket clients. It is
// registered on the Manager with engine.WithListener
func (h *EventHub) Listener() engine.Listener {
	return func(ev engine.Event) {
		message.Send(h.prod, ev)
	}
}

// Close stops event forwarding
func (h *EventHub) Close() {
	h.prod.Close()
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	router.GET("/health", s.handleHealth)

	schedules := router.Group("/schedules")
	{
		schedules.GET("", s.listSchedules)
		schedules.GET("/:scheduleID", s.getSchedule)
		schedules.POST("/:scheduleID/hibernate", s.hibernateSchedule)
		schedules.POST("/:scheduleID/wake", s.wakeSchedule)
	}

	router.GET("/ws", s.handleWebSocket)
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	res := api.HealthResponse{
		Service: app.Name,
		Version: app.Version,
		Status:  api.HealthHealthy,
	}
	if err := s.store.Ping(c.Request.Context()); err != nil {
		res.Status = api.HealthUnhealthy
		res.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listSchedules(c *gin.Context) {
	ids, err := s.manager.Schedules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListSchedules, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.ScheduleListResponse{
		Schedules: ids,
		Count:     len(ids),
	})
}

func (s *Server) getSchedule(c *gin.Context) {
	id := api.ScheduleID(c.Param("scheduleID"))

	ctx := c.Request.Context()
	data, err := s.manager.NewContext(id).Serialize(ctx)
	if errors.Is(err, engine.ErrContextNotFound) {
		if ok, _ := s.manager.Hibernated(ctx, id); ok {
			c.JSON(http.StatusOK, api.ScheduleResponse{
				ScheduleID: id,
				Hibernated: true,
			})
			return
		}
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("Schedule not found: %s", id),
			Status: http.StatusNotFound,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrGetSchedule, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.ScheduleResponse{
		ScheduleID: id,
		Running:    s.manager.Running(id),
		Context:    data,
	})
}

func (s *Server) hibernateSchedule(c *gin.Context) {
	id := api.ScheduleID(c.Param("scheduleID"))
	if err := s.manager.Hibernate(c.Request.Context(), id); err != nil {
		archiveError(c, id, ErrHibernateSchedule, err)
		return
	}
	c.JSON(http.StatusOK, api.ScheduleResponse{
		ScheduleID: id,
		Hibernated: true,
	})
}

func (s *Server) wakeSchedule(c *gin.Context) {
	id := api.ScheduleID(c.Param("scheduleID"))
	if err := s.manager.Wake(c.Request.Context(), id); err != nil {
		archiveError(c, id, ErrWakeSchedule, err)
		return
	}
	c.JSON(http.StatusAccepted, api.ScheduleResponse{
		ScheduleID: id,
		Running:    s.manager.Running(id),
	})
}

func archiveError(
	c *gin.Context, id api.ScheduleID, base, err error,
) {
	status := http.StatusInternalServerError
	msg := fmt.Sprintf("%s: %v", base, err)
	switch {
	case errors.Is(err, engine.ErrArchiveNotConfigured):
		status = http.StatusNotImplemented
	case errors.Is(err, engine.ErrContextNotFound),
		errors.Is(err, archive.ErrSnapshotNotFound):
		status = http.StatusNotFound
		msg = fmt.Sprintf("Schedule not found: %s", id)
	case errors.Is(err, engine.ErrWorkflowAlreadyRunning),
		errors.Is(err, store.ErrLeaseHeld):
		status = http.StatusConflict
	}
	c.JSON(status, api.ErrorResponse{
		Error:  msg,
		Status: status,
	})
}
