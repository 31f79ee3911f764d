package worker

import (
	"net/http"

	"github.com/audiox/audiox-cache/internal/cache"
)

// HeaderOffline 标记由 worker 合成的离线响应。
const HeaderOffline = "X-Audiox-Offline"

const offlinePageHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>This page has not been saved for offline listening yet.</p></body>
</html>
`

const offlineAudioJSON = `{"error":"offline","message":"audio unavailable offline"}`

// offlinePage 导航请求既无网络也无缓存时返回的 404 页面。
func offlinePage(req *http.Request) *http.Response {
	return synthesized(req, http.StatusNotFound, "text/html; charset=utf-8", offlinePageHTML)
}

// offlineAudio 音频请求离线且未缓存时返回的 503 JSON。
func offlineAudio(req *http.Request) *http.Response {
	return synthesized(req, http.StatusServiceUnavailable, "application/json", offlineAudioJSON)
}

// offlineResource 其余请求离线且未缓存时返回的 408。
func offlineResource(req *http.Request) *http.Response {
	return synthesized(req, http.StatusRequestTimeout, "text/plain; charset=utf-8", "resource unavailable offline")
}

func synthesized(req *http.Request, status int, contentType, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", "no-store")
	header.Set(HeaderOffline, "1")
	return cache.NewResponse(req, status, header, []byte(body))
}
