package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler turns a host-mapped request into a worker fetch.
type ProxyHandler interface {
	Handle(fiber.Ctx, *HostRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *HostRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *HostRoute) error {
	return f(c, route)
}

// AppOptions 描述单端口上的代理应用。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *HostRegistry
	Proxy      ProxyHandler
	ListenPort int
	// Diagnostics 在 /-/ 分组下注册诊断接口，这些接口不经过 Host 映射。
	Diagnostics func(fiber.Router)
}

const (
	diagnosticsPrefix = "/-"

	headerRequestID = "X-Request-ID"

	contextKeyRoute     = "_audiox_route"
	contextKeyRequestID = "_audiox_request_id"
)

// NewApp 构造 Fiber 应用：/-/ 下是诊断接口，其余路径按 Host 映射到第一方源站
// 或静态资源主机后交给 Proxy。框架层错误统一渲染为 {"error": "<code>"}。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("host registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  jsonErrorHandler(opts.Logger),
	})
	app.Use(recover.New())
	app.Use(assignRequestID)

	diagnostics := app.Group(diagnosticsPrefix)
	if opts.Diagnostics != nil {
		opts.Diagnostics(diagnostics)
	}
	diagnostics.All("/*", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "diagnostics_not_found"})
	})

	app.All("/*", resolveHost(opts), func(c fiber.Ctx) error {
		route, ok := routeFrom(c)
		if !ok {
			return fiber.ErrInternalServerError
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

// assignRequestID 沿用上游传入的合法 UUID 请求 ID，否则生成新的。
func assignRequestID(c fiber.Ctx) error {
	reqID := strings.TrimSpace(c.Get(headerRequestID))
	if _, err := uuid.Parse(reqID); err != nil {
		reqID = uuid.NewString()
	}
	c.Locals(contextKeyRequestID, reqID)
	c.Set(headerRequestID, reqID)
	return c.Next()
}

// resolveHost 把 Host 头解析为 HostRoute；未映射的 Host 直接 404，不会到达 worker。
func resolveHost(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		host := requestHost(c)
		route, ok := opts.Registry.Lookup(host)
		if !ok {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "host_lookup",
				"host":       host,
				"port":       opts.ListenPort,
				"method":     c.Method(),
				"path":       c.Path(),
				"request_id": RequestID(c),
			}).Warn("host_unmapped")
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "host_unmapped"})
		}
		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

func jsonErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "http",
				"method":     c.Method(),
				"path":       c.Path(),
				"request_id": RequestID(c),
				"error":      err.Error(),
			}).Error("request_failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": errorCode(status)})
	}
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "request_too_large"
	case fiber.StatusBadRequest:
		return "invalid_request"
	default:
		if status >= fiber.StatusInternalServerError {
			return "internal_error"
		}
		return "request_failed"
	}
}

func requestHost(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return strings.TrimSpace(string(raw))
	}
	return c.Hostname()
}

// routeFrom 返回 resolveHost 写入的 HostRoute。
func routeFrom(c fiber.Ctx) (*HostRoute, bool) {
	route, ok := c.Locals(contextKeyRoute).(*HostRoute)
	return route, ok && route != nil
}

// RequestID 返回当前请求的 ID。
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(contextKeyRequestID).(string)
	return reqID
}
