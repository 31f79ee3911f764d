package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/audiox/audiox-cache/internal/cache"
	"github.com/audiox/audiox-cache/internal/fetch"
	"github.com/audiox/audiox-cache/internal/logging"
	"github.com/audiox/audiox-cache/internal/server"
	"github.com/audiox/audiox-cache/internal/worker"
)

const (
	// ClientCookie 标识浏览器页面客户端，仅在第一方导航时下发。
	ClientCookie = "audiox_client"

	headerCacheHit      = "X-Audiox-Cache-Hit"
	headerWorkerVersion = "X-Audiox-Worker-Version"
	headerRequestID     = "X-Request-ID"
)

// Handler 把 Fiber 请求转换为 *http.Request 交给当前激活的 worker，
// 再把 worker 返回的响应（缓存、网络或合成）写回客户端。
type Handler struct {
	registration *worker.Registration
	logger       *logrus.Logger
}

// NewHandler constructs a proxy handler bound to a worker registration.
func NewHandler(registration *worker.Registration, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		registration: registration,
		logger:       logger,
	}
}

// Handle 执行“构造请求 → 选择 worker → 策略处理 → 写回响应”，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.HostRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := buildWorkerRequest(ctx, c, route)
	if err != nil {
		h.logResult(route, nil, "", requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request", requestID)
	}

	navigation := route.FirstParty && worker.IsNavigation(req)
	clientID := ""
	if route.FirstParty {
		clientID = c.Cookies(ClientCookie)
	}

	active, assigned, err := h.registration.Controller(ctx, clientID, navigation)
	if err != nil {
		h.logResult(route, req, "", requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusServiceUnavailable, "worker_unavailable", requestID)
	}
	if navigation && assigned != "" && assigned != clientID {
		c.Cookie(&fiber.Cookie{
			Name:     ClientCookie,
			Value:    assigned,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	resp, err := active.Handle(ctx, req)
	if errors.Is(err, worker.ErrRedundant) {
		// 处理期间恰好发生版本切换，交给新的激活版本重试一次。
		if next := h.registration.Active(); next != nil && next != active {
			active = next
			resp, err = active.Handle(ctx, req)
		}
	}
	if err != nil {
		h.logResult(route, req, active.Version(), requestID, 0, false, started, err)
		if errors.Is(err, fetch.ErrNetwork) {
			return h.writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
		}
		return h.writeError(c, fiber.StatusBadGateway, "cache_failed", requestID)
	}

	return h.writeResponse(c, route, req, active, resp, requestID, started)
}

func (h *Handler) writeResponse(
	c fiber.Ctx,
	route *server.HostRoute,
	req *http.Request,
	active *worker.Worker,
	resp *http.Response,
	requestID string,
	started time.Time,
) error {
	defer resp.Body.Close()

	hit := resp.Header.Get(cache.HeaderStoredAt) != ""
	copyResponseHeaders(c, resp.Header)
	c.Set(headerCacheHit, strconv.FormatBool(hit))
	c.Set(headerWorkerVersion, active.Version())
	if requestID != "" {
		c.Set(headerRequestID, requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, req, active.Version(), requestID, resp.StatusCode, hit, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, req, active.Version(), requestID, resp.StatusCode, hit, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code, requestID string) error {
	if requestID != "" {
		c.Set(headerRequestID, requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.HostRoute,
	req *http.Request,
	version string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	class, partition, target := "", "", ""
	if req != nil {
		target = req.URL.Redacted()
		if active := h.registration.Active(); active != nil {
			class = string(active.Classify(req))
			partition = active.PartitionFor(req)
		}
	}
	fields := logging.RequestFields(class, partition, version, cacheHit)
	fields["action"] = "proxy"
	fields["host"] = route.Host
	fields["upstream"] = upstreamOf(route)
	fields["url"] = target
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildWorkerRequest 将客户端请求按 HostRoute 重建为指向源站的绝对 URL 请求。
func buildWorkerRequest(ctx context.Context, c fiber.Ctx, route *server.HostRoute) (*http.Request, error) {
	if route == nil || route.Upstream == nil {
		return nil, errors.New("route has no upstream")
	}
	uri := c.Request().URI()
	target := *route.Upstream
	target.Path = requestPath(c)
	target.RawPath = ""
	target.RawQuery = string(uri.QueryString())

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}
	fetch.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Host = target.Host

	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	return req, nil
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 透传非 hop-by-hop 头；Content-Length 由 Fiber 根据正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

func routePort(route *server.HostRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}

// upstreamOf 返回请求最终指向的源站，用于诊断输出。
func upstreamOf(route *server.HostRoute) string {
	if route == nil || route.Upstream == nil {
		return ""
	}
	return (&url.URL{Scheme: route.Upstream.Scheme, Host: route.Upstream.Host}).String()
}
