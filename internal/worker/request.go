package worker

import (
	"net/http"
	"strings"
)

// 浏览器通过 Fetch Metadata 头暴露请求的 mode 与 destination。
const (
	HeaderFetchMode = "Sec-Fetch-Mode"
	HeaderFetchDest = "Sec-Fetch-Dest"
)

// 常见的 mode 取值。
const (
	ModeNavigate   = "navigate"
	ModeCORS       = "cors"
	ModeNoCORS     = "no-cors"
	ModeSameOrigin = "same-origin"
)

// Mode 返回请求的 mode，缺省为空串。
func Mode(req *http.Request) string {
	return strings.ToLower(strings.TrimSpace(req.Header.Get(HeaderFetchMode)))
}

// Destination 返回请求的 destination（document/script/style/image/font/audio...）。
func Destination(req *http.Request) string {
	return strings.ToLower(strings.TrimSpace(req.Header.Get(HeaderFetchDest)))
}

// IsNavigation 报告请求是否为页面导航。
// 不带 Sec-Fetch-Mode 的旧客户端退化为 GET + Accept: text/html 判定。
func IsNavigation(req *http.Request) bool {
	if mode := Mode(req); mode != "" {
		return mode == ModeNavigate
	}
	if req.Method != http.MethodGet {
		return false
	}
	return strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}

// staticDestinations 是第一方请求中按静态资源处理的 destination。
var staticDestinations = map[string]struct{}{
	"style":    {},
	"script":   {},
	"image":    {},
	"font":     {},
	"manifest": {},
}

func isStaticDestination(dest string) bool {
	_, ok := staticDestinations[dest]
	return ok
}
