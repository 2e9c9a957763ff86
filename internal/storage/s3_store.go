package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// S3Config содержит параметры подключения к AWS S3 или S3-совместимому хранилищу.
type S3Config struct {
	Region          string
	BucketName      string
	Endpoint        string // Пустой для AWS, иначе адрес совместимого сервиса
	AccessKeyID     string // Пустой - используется стандартная цепочка credentials
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Store реализует BlobStore поверх aws-sdk-go-v2.
type S3Store struct {
	client     *s3.Client
	bucketName string
	logger     *slog.Logger
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store создает клиент S3 и проверяет доступность бакета.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	logger = logger.With(slog.String("component", "s3"))

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	store := &S3Store{client: client, bucketName: cfg.BucketName, logger: logger}
	if err = store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("бакет '%s' недоступен: %w", cfg.BucketName, err)
	}

	logger.Info("Клиент S3 инициализирован",
		slog.String("bucket", cfg.BucketName), slog.String("region", cfg.Region))
	return store, nil
}

// Put загружает новый объект. Тело считается через счетчик, чтобы вернуть реальный размер.
// Поток не перематывается, поэтому тело не хешируется при подписи (UNSIGNED-PAYLOAD).
func (s *S3Store) Put(ctx context.Context, reader io.Reader, size int64, contentType string) (string, int64, error) {
	objectKey := uuid.NewString()
	counter := &countingReader{r: reader}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(objectKey),
		Body:        counter,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	_, err := s.client.PutObject(ctx, input,
		s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	if err != nil {
		s.logger.Error("Ошибка загрузки объекта",
			slog.String("blob_id", objectKey), slog.String("error", err.Error()))
		return "", 0, unavailable("загрузка объекта в S3", err)
	}
	return objectKey, counter.n, nil
}

// Open возвращает тело объекта.
func (s *S3Store) Open(ctx context.Context, blobID string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(blobID),
	})
	if err != nil {
		return nil, s.mapError("получение объекта из S3", blobID, err)
	}
	return out.Body, nil
}

// Delete удаляет объект. DeleteObject идемпотентен, поэтому наличие проверяется HeadObject.
func (s *S3Store) Delete(ctx context.Context, blobID string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(blobID),
	})
	if err != nil {
		return s.mapError("проверка объекта перед удалением", blobID, err)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(blobID),
	})
	if err != nil {
		return s.mapError("удаление объекта из S3", blobID, err)
	}
	return nil
}

// List перечисляет объекты бакета постранично.
func (s *S3Store) List(ctx context.Context) ([]BlobInfo, error) {
	var blobs []BlobInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, unavailable("перечисление объектов S3", err)
		}
		for _, obj := range page.Contents {
			blobs = append(blobs, BlobInfo{
				ID:         aws.ToString(obj.Key),
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
	}
	return blobs, nil
}

// Ping проверяет доступность бакета.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	if err != nil {
		return unavailable("проверка бакета S3", err)
	}
	return nil
}

func (s *S3Store) mapError(op, blobID string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case s3NoSuchKey, "NotFound":
			return fmt.Errorf("%s '%s': %w", op, blobID, ErrObjectNotFound)
		}
	}
	s.logger.Error("Ошибка S3", slog.String("op", op),
		slog.String("blob_id", blobID), slog.String("error", err.Error()))
	return unavailable(op, err)
}

// countingReader считает прочитанные байты.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
