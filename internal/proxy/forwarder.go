package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/audiox/audiox-cache/internal/server"
)

// Forwarder 包裹实际的 ProxyHandler：handler 缺失或 panic 时返回结构化 500，
// 保证一个请求中的异常不会拖垮整个进程，也不会留下半写的响应。
type Forwarder struct {
	handler server.ProxyHandler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder。
func NewForwarder(handler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.HostRoute) error {
	requestID := server.RequestID(c)
	if f.handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.HostRoute, requestID string) error {
	f.logHandlerError(route, "worker_unavailable", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "worker_unavailable"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.HostRoute, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return f.handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.HostRoute, recovered interface{}, requestID string) error {
	f.logHandlerError(route, "worker_panic", fmt.Errorf("panic: %v", recovered), requestID)
	c.Response().ResetBody()
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "worker_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set(headerRequestID, requestID)
	}
}

func (f *Forwarder) logHandlerError(route *server.HostRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action": "proxy",
		"error":  code,
		"host":   "",
	}
	if route != nil {
		fields["host"] = route.Host
		fields["first_party"] = route.FirstParty
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("proxy_handler_unavailable")
}
