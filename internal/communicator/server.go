package communicator

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
)

const streamCap = 10 * time.Minute

// LogSource is the cluster log read interface the HTTP surface exposes.
type LogSource interface {
	Logs(ctx context.Context, namespace, app string, lines int) executor.Result
	LogsFollow(ctx context.Context, namespace, app string, onLine func(string)) error
}

// Server is the node-local HTTP surface: health, app log queries, and
// Prometheus metrics. It never mutates anything.
type Server struct {
	app      *fiber.App
	client   *Client
	logs     LogSource
	services *executor.ServiceProbe
	logger   *zap.Logger
	port     int
}

func NewServer(client *Client, logs LogSource, services *executor.ServiceProbe, port int, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:      app,
		client:   client,
		logs:     logs,
		services: services,
		logger:   logger,
		port:     port,
	}

	app.Get("/health", s.handleHealth)
	app.Get("/api/logs/:namespace/:app", s.handleLogs)
	app.Get("/api/logs/:namespace/:app/stream", s.handleLogStream)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return s
}

// Listen blocks serving HTTP until Shutdown is called.
func (s *Server) Listen() error {
	s.logger.Info("http surface listening", zap.Int("port", s.port))
	return s.app.Listen(fmt.Sprintf(":%d", s.port))
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	identity := s.client.Identity()

	status := "ok"
	agentID := ""
	if identity == nil {
		status = "degraded"
	} else {
		agentID = identity.ID
	}

	services := s.services.Statuses(c.Context(), "docker", "k3s")
	for _, active := range services {
		if !active {
			status = "degraded"
		}
	}

	return c.JSON(fiber.Map{
		"status":     status,
		"timestamp":  time.Now().UnixMilli(),
		"registered": identity != nil,
		"agentId":    agentID,
		"services":   services,
	})
}

func (s *Server) handleLogs(c *fiber.Ctx) error {
	namespace := c.Params("namespace")
	app := c.Params("app")
	if err := validateTarget(namespace, app); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	lines := c.QueryInt("lines", 100)
	result := s.logs.Logs(c.Context(), namespace, app, lines)
	if !result.Success {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": result.Error,
			"logs":  result.Stderr,
		})
	}

	return c.JSON(fiber.Map{
		"namespace": namespace,
		"app":       app,
		"logs":      strings.Split(result.Stdout, "\n"),
	})
}

// handleLogStream follows the app's logs with chunked line writes until
// the client disconnects or the stream cap elapses.
func (s *Server) handleLogStream(c *fiber.Ctx) error {
	namespace := c.Params("namespace")
	app := c.Params("app")
	if err := validateTarget(namespace, app); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), streamCap)
		defer cancel()

		err := s.logs.LogsFollow(ctx, namespace, app, func(line string) {
			if _, werr := w.WriteString(line + "\n"); werr != nil {
				cancel()
				return
			}
			if werr := w.Flush(); werr != nil {
				cancel()
			}
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("log stream ended",
				zap.String("namespace", namespace),
				zap.String("app", app),
				zap.Error(err),
			)
		}
	})
	return nil
}

func validateTarget(namespace, app string) error {
	if err := executor.ValidateName("namespace", namespace); err != nil {
		return err
	}
	return executor.ValidateName("app", app)
}
