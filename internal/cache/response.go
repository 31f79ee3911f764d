package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/audiox/audiox-cache/internal/fetch"
)

// HeaderStoredAt 标记由缓存返回的响应及其写入时间，便于调用方区分命中。
const HeaderStoredAt = "X-Audiox-Stored-At"

// Duplicate 读取 resp.Body 并返回两个正文相互独立的响应：一个写入缓存，一个返回给调用方。
// 原响应的 Body 会被关闭。
func Duplicate(resp *http.Response) (*http.Response, *http.Response, error) {
	if resp == nil {
		return nil, nil, fmt.Errorf("duplicate: nil response")
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	return withBody(resp, body), withBody(resp, body), nil
}

// NewResponse 构造一个完整的内存响应，供合成离线响应等场景使用。
func NewResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	resp := &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Request:    req,
	}
	return withBody(resp, body)
}

func withBody(resp *http.Response, body []byte) *http.Response {
	clone := *resp
	clone.Header = resp.Header.Clone()
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.Header.Set("Content-Length", strconv.Itoa(len(body)))
	clone.Header.Del("Transfer-Encoding")
	clone.TransferEncoding = nil
	return &clone
}

func buildResponse(req *http.Request, meta Metadata, body io.ReadCloser) *http.Response {
	header := meta.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderStoredAt, meta.StoredAt.Format(http.TimeFormat))
	header.Set("Content-Length", strconv.FormatInt(meta.SizeBytes, 10))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", meta.Status, http.StatusText(meta.Status)),
		StatusCode:    meta.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: meta.SizeBytes,
		Request:       req,
	}
}

// storableHeader 去掉 hop-by-hop 与会话相关头，避免把某个用户的 Cookie 回放给其他客户端。
func storableHeader(src http.Header) http.Header {
	dst := http.Header{}
	fetch.CopyHeaders(dst, src)
	dst.Del("Set-Cookie")
	dst.Del("Content-Length")
	dst.Del(HeaderStoredAt)
	return dst
}
