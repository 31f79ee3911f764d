package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// Partition 是一个命名分区的句柄，键为 GET + 绝对 URL。
type Partition struct {
	name  string
	store entryStore
	now   func() time.Time
}

// Name 返回分区名。
func (p *Partition) Name() string {
	return p.name
}

// Match 查找请求对应的响应；ignoreSearch 为 true 时忽略查询串比较。
func (p *Partition) Match(ctx context.Context, req *http.Request, ignoreSearch bool) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, ErrNotFound
	}

	meta, body, err := p.store.load(ctx, entryID(http.MethodGet, keyURL(req.URL)))
	if err == nil {
		return buildResponse(req, meta, body), nil
	}
	if !errors.Is(err, ErrNotFound) || !ignoreSearch {
		return nil, err
	}

	entries, err := p.store.list(ctx)
	if err != nil {
		return nil, err
	}
	// 与浏览器一致，多条候选时返回最早写入的一条。
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StoredAt.Before(entries[j].StoredAt)
	})
	target := withoutSearch(req.URL)
	for _, candidate := range entries {
		parsed, perr := url.Parse(candidate.URL)
		if perr != nil || withoutSearch(parsed) != target {
			continue
		}
		meta, body, err := p.store.load(ctx, entryID(candidate.Method, candidate.URL))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		return buildResponse(req, meta, body), nil
	}
	return nil, ErrNotFound
}

// Put 消费 resp.Body 并写入分区。调用方需先通过 Duplicate 拿到自己的副本。
// 仅接受 GET + 200，206 等片段响应会返回 ErrUncacheable。
func (p *Partition) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", ErrUncacheable)
	}
	defer resp.Body.Close()

	if req.Method != http.MethodGet {
		return fmt.Errorf("%w: method %s", ErrUncacheable, req.Method)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUncacheable, resp.StatusCode)
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	meta := Metadata{
		Method:   http.MethodGet,
		URL:      keyURL(req.URL),
		Status:   resp.StatusCode,
		Header:   storableHeader(resp.Header),
		StoredAt: now().UTC(),
	}
	if _, err := p.store.save(ctx, entryID(meta.Method, meta.URL), meta, resp.Body); err != nil {
		return fmt.Errorf("cache put %s: %w", p.name, err)
	}
	return nil
}

// Delete 删除请求对应的条目，返回条目此前是否存在。
func (p *Partition) Delete(ctx context.Context, req *http.Request) (bool, error) {
	return p.store.remove(ctx, entryID(http.MethodGet, keyURL(req.URL)))
}

// Entries 返回分区内条目元数据，按写入时间排序，供诊断接口使用。
func (p *Partition) Entries(ctx context.Context) ([]Metadata, error) {
	entries, err := p.store.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StoredAt.Before(entries[j].StoredAt)
	})
	return entries, nil
}

// keyURL 去掉片段标识，片段从不参与缓存键。
func keyURL(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	clone.RawFragment = ""
	return clone.String()
}

func withoutSearch(u *url.URL) string {
	clone := *u
	clone.RawQuery = ""
	clone.ForceQuery = false
	clone.Fragment = ""
	clone.RawFragment = ""
	return clone.String()
}
