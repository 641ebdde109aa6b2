package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"metavault/pkg/core"
	"metavault/pkg/storage"
	"metavault/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const objectTypeMeta = "object-type"

// Adapter 把快照和版本对象存到 S3 兼容的对象存储 (AWS / MinIO)
type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
}

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// KeyPrefix 让多个环境共用一个 bucket，例如 "metavault/prod"
	KeyPrefix string
}

func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 需要 path style: http://host:9000/bucket/key
		o.UsePathStyle = true
	})

	a := &Adapter{client: client, bucket: cfg.Bucket, prefix: normalizePrefix(cfg.KeyPrefix)}
	a.ensureBucket(ctx)
	return a, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// ensureBucket 尽力创建 bucket；失败只记日志，权限问题会在第一次读写时暴露
func (s *Adapter) ensureBucket(ctx context.Context) {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		slog.Warn("failed to ensure bucket exists", "bucket", s.bucket, "error", err)
	}
}

// transformKey: "aabbcc..." -> "<prefix>aa/bbcc..."
func (s *Adapter) transformKey(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return s.prefix + h
	}
	return s.prefix + h[:2] + "/" + h[2:]
}

func (s *Adapter) hashFromKey(key string) types.Hash {
	return types.Hash(strings.Replace(strings.TrimPrefix(key, s.prefix), "/", "", 1))
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// 部分 S3 兼容实现只返回裸 404
	return strings.Contains(err.Error(), "404")
}

// Put 内容寻址，已存在的对象直接跳过
func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	exists, err := s.Has(ctx, obj.ID())
	if err != nil {
		return fmt.Errorf("s3 put existence check failed: %w", err)
	}
	if exists {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.transformKey(obj.ID())),
		Body:        bytes.NewReader(obj.Bytes()),
		ContentType: aws.String("application/cbor"),
		Metadata:    map[string]string{objectTypeMeta: string(obj.Type())},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s %s failed: %w", obj.Type(), obj.ID().Short(), err)
	}
	return nil
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s failed: %w", hash.Short(), err)
	}
	return resp.Body, nil
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Delete 只用于删除没有后代的版本；DeleteObject 对不存在的 key 也会成功，所以先 Head
func (s *Adapter) Delete(ctx context.Context, hash types.Hash) error {
	exists, err := s.Has(ctx, hash)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transformKey(hash)),
	}); err != nil {
		return fmt.Errorf("s3 delete %s failed: %w", hash.Short(), err)
	}
	return nil
}

// ExpandHash 用 ListObjectsV2 的前缀查询展开短 Hash
// MaxKeys=2 足以区分 不存在 / 唯一 / 歧义
func (s *Adapter) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	if len(short) < 4 {
		return "", fmt.Errorf("hash prefix too short")
	}

	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.transformKey(types.Hash(short))),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return "", fmt.Errorf("s3 list failed: %w", err)
	}

	switch n := aws.ToInt32(resp.KeyCount); {
	case n == 0:
		return "", storage.ErrNotFound
	case n > 1:
		return "", storage.ErrAmbiguousHash
	}
	return s.hashFromKey(aws.ToString(resp.Contents[0].Key)), nil
}
