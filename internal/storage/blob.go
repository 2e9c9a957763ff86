package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// BlobStore определяет интерфейс объектного хранилища файлов.
// Объекты неизменяемы: Put всегда создает новый ключ.
type BlobStore interface {
	// Put сохраняет содержимое reader и возвращает ключ нового объекта
	// и количество реально записанных байт. size может быть -1, если размер неизвестен.
	Put(ctx context.Context, reader io.Reader, size int64, contentType string) (string, int64, error)
	// Open открывает объект на чтение. Вызывающий обязан закрыть поток.
	Open(ctx context.Context, blobID string) (io.ReadCloser, error)
	// Delete безвозвратно удаляет объект.
	Delete(ctx context.Context, blobID string) error
	// List возвращает все объекты хранилища (для сверки).
	List(ctx context.Context) ([]BlobInfo, error)
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// BlobInfo - сведения об объекте в хранилище.
type BlobInfo struct {
	ID         string
	Size       int64
	ModifiedAt time.Time
}

// Поддерживаемые драйверы хранилища.
const (
	DriverMinio = "minio"
	DriverS3    = "s3"
	DriverFS    = "fs"
)

// Config содержит параметры всех драйверов. Используются только поля выбранного драйвера.
type Config struct {
	Driver string
	Minio  MinioConfig
	S3     S3Config
	FSDir  string
}

// New создает хранилище по имени драйвера.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (BlobStore, error) {
	switch cfg.Driver {
	case DriverMinio, "":
		return NewMinioClient(ctx, cfg.Minio, logger)
	case DriverS3:
		return NewS3Store(ctx, cfg.S3, logger)
	case DriverFS:
		return NewFSStore(cfg.FSDir, logger)
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища %q", cfg.Driver)
	}
}

// Ошибки хранилища.
var (
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
	ErrUnavailable    = errors.New("хранилище недоступно")
)

// unavailable оборачивает ошибку бэкенда так, чтобы errors.Is(err, ErrUnavailable) == true.
// Отмена контекста пробрасывается как есть.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// ReadinessChecker проверяет доступность хранилища для /health/ready.
type ReadinessChecker struct {
	store BlobStore
}

// NewReadinessChecker создает проверку готовности хранилища.
func NewReadinessChecker(store BlobStore) *ReadinessChecker {
	return &ReadinessChecker{store: store}
}

// CheckReady возвращает статус ("ok" или "fail") и сообщение.
func (c *ReadinessChecker) CheckReady(ctx context.Context) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("хранилище объектов недоступно: %v", err)
	}
	return "ok", "хранилище доступно"
}
