package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// NewMemoryRegistry 构建进程内缓存，分区之间相互隔离，条目永不过期。
func NewMemoryRegistry() *Registry {
	return newRegistry(&memoryBackend{
		partitions: make(map[string]*gocache.Cache),
	})
}

type memoryBackend struct {
	mu         sync.RWMutex
	partitions map[string]*gocache.Cache
}

type memoryEntry struct {
	meta Metadata
	body []byte
}

func (b *memoryBackend) open(ctx context.Context, name string, create bool) (entryStore, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if !validPartitionName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	b.mu.RLock()
	store, ok := b.partitions[name]
	b.mu.RUnlock()
	if ok {
		return &memoryPartition{items: store}, nil
	}
	if !create {
		return nil, ErrNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if store, ok = b.partitions[name]; !ok {
		store = gocache.New(gocache.NoExpiration, 0)
		b.partitions[name] = store
	}
	return &memoryPartition{items: store}, nil
}

func (b *memoryBackend) names(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]string, 0, len(b.partitions))
	for name := range b.partitions {
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}

func (b *memoryBackend) drop(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	store, ok := b.partitions[name]
	if !ok {
		return false, nil
	}
	store.Flush()
	delete(b.partitions, name)
	return true, nil
}

// memoryPartition 直接复用 go-cache 的并发安全读写，同一 id 后写覆盖先写。
type memoryPartition struct {
	items *gocache.Cache
}

func (p *memoryPartition) load(ctx context.Context, id string) (Metadata, io.ReadCloser, error) {
	if err := checkContext(ctx); err != nil {
		return Metadata{}, nil, err
	}
	value, ok := p.items.Get(id)
	if !ok {
		return Metadata{}, nil, ErrNotFound
	}
	entry := value.(memoryEntry)
	return entry.meta, io.NopCloser(bytes.NewReader(entry.body)), nil
}

func (p *memoryPartition) save(ctx context.Context, id string, meta Metadata, body io.Reader) (int64, error) {
	buf := &bytes.Buffer{}
	written, err := copyWithContext(ctx, buf, body)
	if err != nil {
		return 0, err
	}
	meta.SizeBytes = written
	p.items.Set(id, memoryEntry{meta: meta, body: buf.Bytes()}, gocache.NoExpiration)
	return written, nil
}

func (p *memoryPartition) remove(ctx context.Context, id string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	if _, ok := p.items.Get(id); !ok {
		return false, nil
	}
	p.items.Delete(id)
	return true, nil
}

func (p *memoryPartition) list(ctx context.Context) ([]Metadata, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	items := p.items.Items()
	result := make([]Metadata, 0, len(items))
	for _, item := range items {
		result = append(result, item.Object.(memoryEntry).meta)
	}
	return result, nil
}
