package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"
)

// ErrNotFound 表示分区或条目不存在，是唯一被视为“未命中”而非故障的错误。
var ErrNotFound = errors.New("cache entry not found")

// ErrUncacheable 表示请求/响应不满足写入条件（非 GET、非 200，尤其是 206 片段）。
var ErrUncacheable = errors.New("response is not cacheable")

// ErrInvalidName 表示分区名包含路径分隔符等非法字符。
var ErrInvalidName = errors.New("invalid partition name")

// Metadata 描述一个缓存条目除正文外的全部信息。磁盘布局为：
//
//	<StoragePath>/<partition>/<id>.json   # Metadata
//	<StoragePath>/<partition>/<id>.body   # 正文
type Metadata struct {
	Method    string      `json:"method"`
	URL       string      `json:"url"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	SizeBytes int64       `json:"size_bytes"`
	StoredAt  time.Time   `json:"stored_at"`
}

// entryStore 是单个分区在具体后端上的原始读写能力，不关心请求语义。
type entryStore interface {
	// load 返回条目元数据与正文 Reader，不存在时返回 ErrNotFound。
	load(ctx context.Context, id string) (Metadata, io.ReadCloser, error)
	// save 以覆盖语义写入条目，同一 id 的并发写入由实现串行化。
	save(ctx context.Context, id string, meta Metadata, body io.Reader) (int64, error)
	// remove 删除条目，返回是否确实存在。
	remove(ctx context.Context, id string) (bool, error)
	// list 返回全部条目的元数据。
	list(ctx context.Context) ([]Metadata, error)
}

// backend 管理分区集合本身。
type backend interface {
	open(ctx context.Context, name string, create bool) (entryStore, error)
	names(ctx context.Context) ([]string, error)
	drop(ctx context.Context, name string) (bool, error)
}

// entryID 由 method + URL 计算稳定的条目标识。
func entryID(method, rawURL string) string {
	sum := sha1.Sum([]byte(method + " " + rawURL))
	return hex.EncodeToString(sum[:])
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
