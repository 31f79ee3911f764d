package cache

import (
	"context"
	"errors"
	"net/http"
)

// MatchOptions 控制跨分区查找：Partition 为空时按名称顺序搜索所有分区。
type MatchOptions struct {
	Partition    string
	IgnoreSearch bool
}

// Registry 管理全部命名分区，提供 open/match/names/delete 原语。
type Registry struct {
	backend backend
}

func newRegistry(b backend) *Registry {
	return &Registry{backend: b}
}

// Open 打开分区，不存在时创建。
func (r *Registry) Open(ctx context.Context, name string) (*Partition, error) {
	store, err := r.backend.open(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return &Partition{name: name, store: store}, nil
}

// Lookup 打开已存在的分区，不存在时返回 ErrNotFound 而不是创建。
func (r *Registry) Lookup(ctx context.Context, name string) (*Partition, error) {
	store, err := r.backend.open(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return &Partition{name: name, store: store}, nil
}

// Has 报告分区是否存在。
func (r *Registry) Has(ctx context.Context, name string) (bool, error) {
	if _, err := r.backend.open(ctx, name, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Names 返回全部分区名，按字典序排列。
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	return r.backend.names(ctx)
}

// Delete 删除整个分区，返回分区此前是否存在。
func (r *Registry) Delete(ctx context.Context, name string) (bool, error) {
	return r.backend.drop(ctx, name)
}

// Match 在指定分区或全部分区中查找请求对应的响应，未命中返回 ErrNotFound。
func (r *Registry) Match(ctx context.Context, req *http.Request, opts MatchOptions) (*http.Response, error) {
	if opts.Partition != "" {
		partition, err := r.Lookup(ctx, opts.Partition)
		if err != nil {
			return nil, err
		}
		return partition.Match(ctx, req, opts.IgnoreSearch)
	}

	names, err := r.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		partition, err := r.Lookup(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		resp, err := partition.Match(ctx, req, opts.IgnoreSearch)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
