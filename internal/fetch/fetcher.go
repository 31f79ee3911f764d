// Package fetch performs the network half of every caching strategy: it
// forwards an intercepted request to its origin over a shared http.Client and
// reports transport failures as ErrNetwork so strategies can tell "the
// network rejected" apart from "the origin answered with an error status".
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNetwork 表示请求未得到任何 HTTP 响应（连接失败、超时、被取消）。
var ErrNetwork = errors.New("network request failed")

// Fetcher 抽象网络访问，测试中可替换为桩实现。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 基于共享 http.Client 的 Fetcher 实现。
type HTTPFetcher struct {
	client *http.Client
}

// New 构造 HTTPFetcher，client 为空时使用默认超时的共享客户端。
func New(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = NewUpstreamClient(0)
	}
	return &HTTPFetcher{client: client}
}

// Fetch 复制请求并发往其 URL 所指的源站。非 2xx 状态码不视为失败。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.Host = req.URL.Host
	out.Header = http.Header{}
	CopyHeaders(out.Header, req.Header)
	// 交给 Transport 自行协商压缩并透明解压，缓存中只保存明文正文。
	out.Header.Del("Accept-Encoding")

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}
