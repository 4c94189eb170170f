// Package storage holds uploaded attachment blobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"skillswap-chat/pkg/config"
)

var (
	ErrNotFound   = errors.New("stored file not found")
	ErrInvalidKey = errors.New("invalid storage key")
)

// FileStore 按 key 保存附件，key 是不含路径分隔符的文件名
type FileStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除不存在的 key 不算错误
	Delete(ctx context.Context, key string) error
}

func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// New 根据 file.backend 选择实现
func New(ctx context.Context, cfg *config.FileConfig) (FileStore, error) {
	if cfg == nil {
		return NewLocalStore("uploads")
	}
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.StoragePath)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported file backend %q", cfg.Backend)
	}
}
