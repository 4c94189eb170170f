package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"skillswap-chat/internal/model"
	"skillswap-chat/internal/storage"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"go.uber.org/zap"
)

const defaultMaxFileSize = 10 * 1024 * 1024

var (
	ErrNoFile          = errors.New("no file uploaded")
	ErrFileTooLarge    = errors.New("file too large")
	ErrInvalidFileType = errors.New("invalid file type")
)

var allowedMimeTypes = map[string]bool{
	"image/jpeg":         true,
	"image/jpg":          true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain":                   true,
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/vnd.ms-excel":     true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

var allowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".pdf": true, ".doc": true, ".docx": true, ".txt": true, ".zip": true,
	".xls": true, ".xlsx": true,
}

// FileService 校验并保存聊天附件
type FileService struct {
	store   storage.FileStore
	maxSize int64
}

// FileInfo 包含文件的元数据
type FileInfo struct {
	Name     string            // 原始文件名
	Key      string            // 存储中的文件名
	Size     int64
	MimeType string
	Kind     model.MessageKind
}

func NewFileService(store storage.FileStore) *FileService {
	maxSize := int64(defaultMaxFileSize)
	if config.GlobalConfig.File != nil && config.GlobalConfig.File.MaxFileSize > 0 {
		maxSize = config.GlobalConfig.File.MaxFileSize
	}
	return &FileService{store: store, maxSize: maxSize}
}

// Validate 大小、MIME 类型和扩展名都必须通过，返回规范化的 MIME 类型
func (s *FileService) Validate(file *multipart.FileHeader) (string, error) {
	if file == nil {
		return "", ErrNoFile
	}
	if file.Size > s.maxSize {
		return "", fmt.Errorf("%w: maximum size is %d bytes", ErrFileTooLarge, s.maxSize)
	}

	mimeType, _, err := mime.ParseMediaType(file.Header.Get("Content-Type"))
	if err != nil {
		mimeType = ""
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedMimeTypes[mimeType] || !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: %q (%s)", ErrInvalidFileType, mimeType, ext)
	}
	return mimeType, nil
}

// StoreFile 保存上传的文件并返回元数据
func (s *FileService) StoreFile(ctx context.Context, file *multipart.FileHeader, userID string) (*FileInfo, error) {
	mimeType, err := s.Validate(file)
	if err != nil {
		return nil, err
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	key := storageKey(file.Filename, userID, time.Now().UnixNano())
	if err := s.store.Put(ctx, key, mimeType, io.LimitReader(src, s.maxSize), file.Size); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	info := &FileInfo{
		Name:     file.Filename,
		Key:      key,
		Size:     file.Size,
		MimeType: mimeType,
		Kind:     model.KindForMime(mimeType),
	}

	logger.L.Info("File stored successfully",
		zap.String("key", info.Key),
		zap.String("name", info.Name),
		zap.Int64("size", info.Size),
		zap.String("userID", userID))

	return info, nil
}

func (s *FileService) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.store.Open(ctx, key)
}

// Remove 清理未能落库的附件，失败只记日志
func (s *FileService) Remove(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.L.Warn("Failed to remove orphaned file", zap.String("key", key), zap.Error(err))
		return
	}
	logger.L.Info("Removed orphaned file", zap.String("key", key))
}

// 唯一文件名 = 净化的原始名称_哈希值.扩展名
func storageKey(filename, userID string, timestamp int64) string {
	ext := strings.ToLower(filepath.Ext(filename))

	h := sha256.New()
	io.WriteString(h, fmt.Sprintf("%s%d%s", filename, timestamp, userID))
	hash := fmt.Sprintf("%x", h.Sum(nil))[:12] // 取哈希的前12个字符

	base := strings.TrimSuffix(filepath.Base(filepath.ToSlash(filename)), filepath.Ext(filename))
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, base)
	if safe == "" || safe == "." || safe == ".." {
		safe = "file"
	}
	return fmt.Sprintf("%s_%s%s", safe, hash, ext)
}
