package routes

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiox/audiox-cache/internal/cache"
	"github.com/audiox/audiox-cache/internal/server"
	"github.com/audiox/audiox-cache/internal/worker"
)

// Diagnostics 汇集 /-/ 诊断接口需要读取的组件。
type Diagnostics struct {
	Caches       *cache.Registry
	Registration *worker.Registration
	Hosts        *server.HostRegistry
	Gatherer     prometheus.Gatherer
}

// RegisterDiagnosticsRoutes 在 router（通常是 /-/ 分组）下暴露 caches、worker、message、metrics
// 诊断接口，供 SRE 查看分区内容、worker 版本与客户端，并手动触发 SKIP_WAITING。
func RegisterDiagnosticsRoutes(router fiber.Router, d Diagnostics) {
	if router == nil || d.Caches == nil || d.Registration == nil {
		return
	}

	router.Get("/caches", func(c fiber.Ctx) error {
		names, err := d.Caches.Names(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		partitions := make([]partitionPayload, 0, len(names))
		for _, name := range names {
			partition, err := d.Caches.Lookup(c.Context(), name)
			if err != nil {
				continue
			}
			entries, err := partition.Entries(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
			}
			partitions = append(partitions, encodePartition(name, entries, d.Registration.Active()))
		}
		return c.JSON(fiber.Map{"partitions": partitions})
	})

	router.Get("/caches/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "partition_name_required"})
		}
		partition, err := d.Caches.Lookup(c.Context(), name)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) || errors.Is(err, cache.ErrInvalidName) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "partition_not_found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		entries, err := partition.Entries(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		payload := encodePartition(name, entries, d.Registration.Active())
		payload.Items = encodeEntries(entries)
		return c.JSON(payload)
	})

	router.Get("/worker", func(c fiber.Ctx) error {
		return c.JSON(workerPayload{
			Active:     encodeWorker(d.Registration.Active()),
			Waiting:    encodeWorker(d.Registration.Waiting()),
			Installing: encodeWorker(d.Registration.Installing()),
			Clients:    d.Registration.Clients(),
			Hosts:      encodeHosts(d.Hosts.List()),
		})
	})

	router.Post("/message", func(c fiber.Ctx) error {
		var msg worker.Message
		if err := json.Unmarshal(c.Body(), &msg); err != nil || msg.Type == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
		}
		reply, err := d.Registration.PostMessage(c.Context(), msg)
		if err != nil {
			if errors.Is(err, worker.ErrNoActiveWorker) {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "worker_unavailable"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "message_failed"})
		}
		return c.JSON(reply)
	})

	if d.Gatherer != nil {
		router.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
}

type partitionPayload struct {
	Name      string         `json:"name"`
	Entries   int            `json:"entries"`
	SizeBytes int64          `json:"size_bytes"`
	Current   bool           `json:"current"`
	Items     []entryPayload `json:"items,omitempty"`
}

type entryPayload struct {
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	StoredAt    time.Time `json:"stored_at"`
}

type workerStatePayload struct {
	Version    string   `json:"version"`
	State      string   `json:"state"`
	Pending    int      `json:"pending"`
	Partitions []string `json:"partitions"`
}

type hostPayload struct {
	Host       string `json:"host"`
	Upstream   string `json:"upstream"`
	FirstParty bool   `json:"first_party"`
	Port       int    `json:"port"`
}

type workerPayload struct {
	Active     *workerStatePayload `json:"active"`
	Waiting    *workerStatePayload `json:"waiting,omitempty"`
	Installing *workerStatePayload `json:"installing,omitempty"`
	Clients    []worker.Client     `json:"clients"`
	Hosts      []hostPayload       `json:"hosts"`
}

func encodePartition(name string, entries []cache.Metadata, active *worker.Worker) partitionPayload {
	payload := partitionPayload{Name: name, Entries: len(entries)}
	for _, entry := range entries {
		payload.SizeBytes += entry.SizeBytes
	}
	if active != nil {
		payload.Current = active.Partitions().Owns(name)
	}
	return payload
}

func encodeEntries(entries []cache.Metadata) []entryPayload {
	if len(entries) == 0 {
		return nil
	}
	result := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entryPayload{
			URL:         entry.URL,
			Status:      entry.Status,
			ContentType: entry.Header.Get("Content-Type"),
			SizeBytes:   entry.SizeBytes,
			StoredAt:    entry.StoredAt,
		})
	}
	return result
}

func encodeWorker(w *worker.Worker) *workerStatePayload {
	if w == nil {
		return nil
	}
	return &workerStatePayload{
		Version:    w.Version(),
		State:      string(w.State()),
		Pending:    w.Pending(),
		Partitions: w.Partitions().List(),
	}
}

func encodeHosts(routes []server.HostRoute) []hostPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]hostPayload, 0, len(routes))
	for _, route := range routes {
		upstream := ""
		if route.Upstream != nil {
			upstream = route.Upstream.String()
		}
		result = append(result, hostPayload{
			Host:       route.Host,
			Upstream:   upstream,
			FirstParty: route.FirstParty,
			Port:       route.ListenPort,
		})
	}
	return result
}
