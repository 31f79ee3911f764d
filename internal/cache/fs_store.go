package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// NewDiskRegistry 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewDiskRegistry(basePath string) (*Registry, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return newRegistry(&diskBackend{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}), nil
}

// diskBackend 为每个分区维护一个子目录，entryLock 避免同一条目并发写入。
type diskBackend struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (b *diskBackend) open(ctx context.Context, name string, create bool) (entryStore, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	dir, err := b.partitionDir(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return &diskPartition{backend: b, name: name, dir: dir}, nil
	case err == nil:
		return nil, fmt.Errorf("partition %s: not a directory", name)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	if !create {
		return nil, ErrNotFound
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskPartition{backend: b, name: name, dir: dir}, nil
}

func (b *diskBackend) names(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.basePath)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			result = append(result, entry.Name())
		}
	}
	sort.Strings(result)
	return result, nil
}

func (b *diskBackend) drop(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	dir, err := b.partitionDir(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	// 先改名再删除，避免删除过程中被 open 读到半个目录。
	trash, err := os.MkdirTemp(b.basePath, ".drop-*")
	if err != nil {
		return false, err
	}
	target := filepath.Join(trash, "partition")
	if err := os.Rename(dir, target); err != nil {
		os.RemoveAll(trash)
		return false, err
	}
	return true, os.RemoveAll(trash)
}

func (b *diskBackend) partitionDir(name string) (string, error) {
	if !validPartitionName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(b.basePath, name), nil
}

func (b *diskBackend) lockEntry(key string) func() {
	b.mu.Lock()
	lock := b.locks[key]
	if lock == nil {
		lock = &entryLock{}
		b.locks[key] = lock
	}
	lock.refs++
	b.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		b.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(b.locks, key)
		}
		b.mu.Unlock()
	}
}

type diskPartition struct {
	backend *diskBackend
	name    string
	dir     string
}

// load 在条目锁内读取元数据并打开正文，保证二者来自同一次 save；
// 打开后的文件句柄不受之后 rename 覆盖影响。
func (p *diskPartition) load(ctx context.Context, id string) (Metadata, io.ReadCloser, error) {
	if err := checkContext(ctx); err != nil {
		return Metadata{}, nil, err
	}
	unlock := p.backend.lockEntry(p.name + "::" + id)
	defer unlock()

	meta, err := readMetadata(p.metaPath(id))
	if err != nil {
		return Metadata{}, nil, err
	}
	f, err := os.Open(p.bodyPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, nil, ErrNotFound
		}
		return Metadata{}, nil, err
	}
	// 进程在两次 rename 之间退出会留下不匹配的正文，按未命中处理。
	if info, err := f.Stat(); err != nil || info.Size() != meta.SizeBytes {
		f.Close()
		return Metadata{}, nil, ErrNotFound
	}
	return meta, f, nil
}

func (p *diskPartition) save(ctx context.Context, id string, meta Metadata, body io.Reader) (int64, error) {
	unlock := p.backend.lockEntry(p.name + "::" + id)
	defer unlock()

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return 0, err
	}

	// 正文先落盘，元数据最后 rename；load 以元数据为准。
	written, err := writeAtomic(p.dir, p.bodyPath(id), func(w io.Writer) (int64, error) {
		return copyWithContext(ctx, w, body)
	})
	if err != nil {
		return 0, err
	}

	meta.SizeBytes = written
	if _, err := writeAtomic(p.dir, p.metaPath(id), func(w io.Writer) (int64, error) {
		return 0, json.NewEncoder(w).Encode(meta)
	}); err != nil {
		os.Remove(p.bodyPath(id))
		return 0, err
	}
	return written, nil
}

func (p *diskPartition) remove(ctx context.Context, id string) (bool, error) {
	unlock := p.backend.lockEntry(p.name + "::" + id)
	defer unlock()

	if err := checkContext(ctx); err != nil {
		return false, err
	}
	existed := true
	if err := os.Remove(p.metaPath(id)); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		existed = false
	}
	if err := os.Remove(p.bodyPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return existed, nil
}

func (p *diskPartition) list(ctx context.Context) ([]Metadata, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	result := make([]Metadata, 0, len(entries)/2)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		meta, err := readMetadata(filepath.Join(p.dir, name))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, meta)
	}
	return result, nil
}

func (p *diskPartition) bodyPath(id string) string {
	return filepath.Join(p.dir, id+".body")
}

func (p *diskPartition) metaPath(id string) string {
	return filepath.Join(p.dir, id+".json")
}

func readMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode cache metadata %s: %w", filepath.Base(path), err)
	}
	return meta, nil
}

// writeAtomic 通过临时文件 + rename 写入目标文件，失败时清理临时文件。
func writeAtomic(dir, target string, write func(io.Writer) (int64, error)) (int64, error) {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := write(tempFile)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func validPartitionName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`+"\x00")
}
