// Package artifact 上传执行产物（trace、录屏、截图）到对象存储。
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/raja-9679/TraceIQ-sub000/internal/config"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
)

// ErrNotFound 待上传的本地文件不存在
var ErrNotFound = errors.New("artifact: local file not found")

// Store 产物存储，实现需要可并发使用
type Store interface {
	Put(ctx context.Context, bucket, key, localPath string) error
}

var contentTypes = map[string]string{
	".zip":  "application/zip",
	".webm": "video/webm",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".json": "application/json",
}

// ContentType 按扩展名推断内容类型
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Open 按配置创建存储
func Open(ctx context.Context, cfg config.Artifacts, l logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.LocalRoot), nil
	case "minio", "":
		return NewMinioStore(ctx, cfg, l)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

func statFile(localPath string) error {
	fi, err := os.Stat(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", localPath, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}
	return nil
}

// MinioStore S3 兼容的对象存储
type MinioStore struct {
	client *minio.Client
	log    logger.Logger
}

// NewMinioStore 创建客户端并确保默认 bucket 存在
func NewMinioStore(ctx context.Context, cfg config.Artifacts, l logger.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	s := &MinioStore{client: client, log: logger.OrNop(l)}
	if cfg.Bucket != "" {
		if err := s.ensureBucket(ctx, cfg.Bucket); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	s.log.Info("已创建产物 bucket", "bucket", bucket)
	return nil
}

// Put 上传本地文件
func (s *MinioStore) Put(ctx context.Context, bucket, key, localPath string) error {
	if err := statFile(localPath); err != nil {
		return err
	}
	info, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.log.Debug("产物已上传", "bucket", bucket, "key", key, "size", info.Size)
	return nil
}

// LocalStore 把产物复制到本地目录 {root}/{bucket}/{key}
type LocalStore struct {
	root string
}

// NewLocalStore 创建本地存储
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Path 产物在本地的完整路径
func (s *LocalStore) Path(bucket, key string) string {
	clean := path.Clean("/" + key)
	return filepath.Join(s.root, bucket, filepath.FromSlash(clean))
}

func (s *LocalStore) Put(ctx context.Context, bucket, key, localPath string) error {
	if err := statFile(localPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.Path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return copyFile(dst, localPath)
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
