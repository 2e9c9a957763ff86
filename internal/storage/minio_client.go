package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Код ошибки S3 для отсутствующего объекта.
const s3NoSuchKey = "NoSuchKey"

// MinioClient реализует BlobStore для MinIO.
type MinioClient struct {
	client     *minio.Client
	bucketName string
	logger     *slog.Logger
}

var _ BlobStore = (*MinioClient)(nil)

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string // Логин
	SecretAccessKey string // Пароль
	UseSSL          bool   // Использовать SSL (обычно false для локальной разработки)
	BucketName      string // Имя бакета для хранения файлов
	Region          string // Регион (не обязательно для MinIO, но может требоваться)
}

// NewMinioClient создает новый клиент MinIO и при необходимости создает бакет.
func NewMinioClient(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioClient, error) {
	logger = logger.With(slog.String("component", "minio"))
	logger.Info("Инициализация клиента MinIO", slog.String("endpoint", cfg.Endpoint))

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования бакета '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		logger.Info("Бакет не найден, создаем", slog.String("bucket", cfg.BucketName))
		err = minioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.BucketName, err)
		}
	}

	logger.Info("Клиент MinIO инициализирован", slog.String("bucket", cfg.BucketName))
	return &MinioClient{
		client:     minioClient,
		bucketName: cfg.BucketName,
		logger:     logger,
	}, nil
}

// Put загружает новый объект в MinIO под сгенерированным ключом.
func (c *MinioClient) Put(
	ctx context.Context,
	reader io.Reader,
	size int64,
	contentType string,
) (string, int64, error) {
	objectKey := uuid.NewString()

	uploadInfo, err := c.client.PutObject(ctx, c.bucketName, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		c.logger.Error("Ошибка загрузки объекта",
			slog.String("blob_id", objectKey), slog.String("error", err.Error()))
		return "", 0, unavailable("загрузка объекта в MinIO", err)
	}

	c.logger.Debug("Объект загружен",
		slog.String("blob_id", objectKey), slog.Int64("size", uploadInfo.Size), slog.String("etag", uploadInfo.ETag))
	return objectKey, uploadInfo.Size, nil
}

// Open возвращает поток чтения объекта.
// GetObject ленивый, поэтому существование объекта проверяется через Stat.
func (c *MinioClient) Open(ctx context.Context, blobID string) (io.ReadCloser, error) {
	object, err := c.client.GetObject(ctx, c.bucketName, blobID, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.mapError("получение объекта из MinIO", blobID, err)
	}
	if _, err = object.Stat(); err != nil {
		_ = object.Close()
		return nil, c.mapError("получение метаданных объекта из MinIO", blobID, err)
	}
	return object, nil
}

// Delete удаляет объект. RemoveObject не сообщает об отсутствии ключа,
// поэтому сначала выполняется StatObject.
func (c *MinioClient) Delete(ctx context.Context, blobID string) error {
	if _, err := c.client.StatObject(ctx, c.bucketName, blobID, minio.StatObjectOptions{}); err != nil {
		return c.mapError("проверка объекта перед удалением", blobID, err)
	}
	if err := c.client.RemoveObject(ctx, c.bucketName, blobID, minio.RemoveObjectOptions{}); err != nil {
		return c.mapError("удаление объекта из MinIO", blobID, err)
	}
	c.logger.Debug("Объект удален", slog.String("blob_id", blobID))
	return nil
}

// List перечисляет все объекты бакета.
func (c *MinioClient) List(ctx context.Context) ([]BlobInfo, error) {
	var blobs []BlobInfo
	for obj := range c.client.ListObjects(ctx, c.bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, unavailable("перечисление объектов MinIO", obj.Err)
		}
		blobs = append(blobs, BlobInfo{ID: obj.Key, Size: obj.Size, ModifiedAt: obj.LastModified})
	}
	return blobs, nil
}

// Ping проверяет доступность бакета.
func (c *MinioClient) Ping(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucketName)
	if err != nil {
		return unavailable("проверка бакета MinIO", err)
	}
	if !exists {
		return fmt.Errorf("бакет '%s' не существует: %w", c.bucketName, ErrUnavailable)
	}
	return nil
}

func (c *MinioClient) mapError(op, blobID string, err error) error {
	if minio.ToErrorResponse(err).Code == s3NoSuchKey {
		return fmt.Errorf("%s '%s': %w", op, blobID, ErrObjectNotFound)
	}
	c.logger.Error("Ошибка MinIO", slog.String("op", op),
		slog.String("blob_id", blobID), slog.String("error", err.Error()))
	return unavailable(op, err)
}
