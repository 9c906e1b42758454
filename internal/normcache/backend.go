package normcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/bytedance/sonic"
)

var (
	// ErrCacheCorrupt 表示持久化的边界无法解析。
	ErrCacheCorrupt = errors.New("normcache: cache corrupt")
	// ErrBoundsExist 表示其他写入者已先行持久化边界。
	ErrBoundsExist = errors.New("normcache: bounds already persisted")
)

// Bounds 为单个通道的归一化区间。
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Backend 负责边界的持久化。Load 在尚无数据时返回 (nil, nil)；
// Save 只允许成功一次，已存在时返回 ErrBoundsExist。
type Backend interface {
	Load(ctx context.Context) ([]Bounds, error)
	Save(ctx context.Context, bounds []Bounds) error
}

// FileBackend 将边界保存为 JSON 数组 [{"min":..,"max":..}, ...]，下标即通道序号。
type FileBackend struct {
	Path string
}

// NewFileBackend 创建文件后端。
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (b *FileBackend) Load(_ context.Context) ([]Bounds, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("normcache: 读取文件失败: %w", err)
	}

	var bounds []Bounds
	if err := json.Unmarshal(data, &bounds); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, b.Path, err)
	}
	return bounds, nil
}

func (b *FileBackend) Save(_ context.Context, bounds []Bounds) error {
	data, err := json.Marshal(bounds)
	if err != nil {
		return fmt.Errorf("normcache: 编码边界失败: %w", err)
	}

	dir := filepath.Dir(b.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("normcache: 创建目录失败: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".min-max-*.json")
	if err != nil {
		return fmt.Errorf("normcache: 创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("normcache: 写入临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("normcache: 关闭临时文件失败: %w", err)
	}

	// 硬链接在目标已存在时失败，保证只有第一个写入者生效
	if err := os.Link(tmpName, b.Path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrBoundsExist
		}
		return fmt.Errorf("normcache: 写入文件失败: %w", err)
	}
	return nil
}

// Discard 删除损坏的文件，以便重新计算后写入。
func (b *FileBackend) Discard(_ context.Context) error {
	if err := os.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("normcache: 删除文件失败: %w", err)
	}
	return nil
}
