package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/turnstile/internal/happening"
	"github.com/nfrund/turnstile/internal/subscription"
	"github.com/nfrund/turnstile/internal/topics"
	"github.com/nfrund/turnstile/internal/worker"
)

// TopicView is the API representation of a topic
type TopicView struct {
	topics.Config
	Source        string    `json:"source"`
	LoadedAt      time.Time `json:"loaded_at"`
	Subscriptions int       `json:"subscriptions"`
}

// RegisterRoutes sets up all the status routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/healthz", s.health)
	s.E.GET("/stats", s.stats)
	s.E.GET("/topics", s.listTopics)
	s.E.GET("/topics/:name", s.getTopic)
	s.E.GET("/subscriptions", s.listSubscriptions)
	s.E.GET("/workers", s.listWorkers)

	if s.publisher != nil {
		s.E.POST("/happenings/:topic", s.raiseHappening)
	}

	if s.metrics != nil {
		s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
			Gatherer: s.metrics,
		}))
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"topics":        s.registry.TopicSet().Count(),
		"subscriptions": s.registry.Count(),
	})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.Stats())
}

func (s *Server) listTopics(c echo.Context) error {
	list := s.registry.Topics()
	views := make([]TopicView, 0, len(list))
	for _, t := range list {
		views = append(views, s.topicView(t))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getTopic(c echo.Context) error {
	t, ok := s.registry.TopicByName(c.Param("name"))
	if !ok {
		LoggerFrom(c.Request().Context()).Debug("Unknown topic requested", "topic", c.Param("name"))
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	return c.JSON(http.StatusOK, s.topicView(t))
}

func (s *Server) listSubscriptions(c echo.Context) error {
	subs := s.registry.Subscriptions()
	if name := c.QueryParam("topic"); name != "" {
		subs = s.registry.SubscriptionsFor(name)
	}
	infos := make([]subscription.Info, 0, len(subs))
	for _, sub := range subs {
		infos = append(infos, sub.Info())
	}
	return c.JSON(http.StatusOK, infos)
}

func (s *Server) listWorkers(c echo.Context) error {
	if s.workers == nil {
		return c.JSON(http.StatusOK, []worker.Status{})
	}
	return c.JSON(http.StatusOK, s.workers.Statuses())
}

// maxHappeningPayload caps the request body of a raised happening
const maxHappeningPayload = 1 << 20

func (s *Server) raiseHappening(c echo.Context) error {
	name := c.Param("topic")
	if _, ok := s.registry.TopicByName(name); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	if len(s.registry.SubscriptionsFor(name)) == 0 {
		LoggerFrom(c.Request().Context()).Debug("Happening raised without handlers", "topic", name)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxHappeningPayload+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read payload")
	}
	if len(body) > maxHappeningPayload {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}
	// An empty body raises the happening without a payload
	if len(body) > 0 && !json.Valid(body) {
		return echo.NewHTTPError(http.StatusBadRequest, "payload must be JSON")
	}

	source := c.QueryParam("source")
	if source == "" {
		source = "http"
	}
	if err := happening.Raise(c.Request().Context(), s.publisher, name, source, body); err != nil {
		LoggerFrom(c.Request().Context()).Error("Failed to raise happening", "topic", name, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to raise happening")
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"topic":     name,
		"bus_topic": happening.BusTopic(name),
		"source":    source,
	})
}

func (s *Server) topicView(t *topics.Topic) TopicView {
	v := TopicView{
		Config:        t.Config(),
		Subscriptions: len(s.registry.SubscriptionsFor(t.Name())),
	}
	if e, ok := s.registry.TopicSet().Entry(t.Name()); ok {
		v.Source = e.Source
		v.LoadedAt = e.LoadedAt
	}
	return v
}
