package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/maynagashev/filelocker/internal/access"
	"github.com/maynagashev/filelocker/internal/models"
	"github.com/maynagashev/filelocker/internal/repository"
	"github.com/maynagashev/filelocker/internal/storage"
)

// DefaultMaxUploadSize - максимальный размер файла по умолчанию (10 MiB).
const DefaultMaxUploadSize int64 = 10 << 20

// UploadRequest - входные данные загрузки.
type UploadRequest struct {
	Content     io.Reader
	Filename    string
	ContentType string
	Size        int64 // Заявленный клиентом размер, -1 если неизвестен
	Credential  access.Credential
}

// UploadService определяет интерфейс загрузки файлов.
type UploadService interface {
	Upload(ctx context.Context, req UploadRequest) (*models.FileRecord, error)
	MaxUploadSize() int64
}

// UploadConfig - ограничения загрузки.
type UploadConfig struct {
	MaxUploadSize int64
	AllowedTypes  *TypeAllowList
}

type uploadService struct {
	blobs   storage.BlobStore
	records repository.FileRepository
	policy  access.Policy
	maxSize int64
	allowed *TypeAllowList
	logger  *slog.Logger
}

var _ UploadService = (*uploadService)(nil)

// NewUploadService создает сервис загрузки. Нулевые значения конфигурации заменяются значениями по умолчанию.
func NewUploadService(
	blobs storage.BlobStore,
	records repository.FileRepository,
	policy access.Policy,
	cfg UploadConfig,
	logger *slog.Logger,
) UploadService {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	if cfg.AllowedTypes == nil {
		cfg.AllowedTypes, _ = ParseAllowedTypes(DefaultAllowedTypes)
	}
	return &uploadService{
		blobs:   blobs,
		records: records,
		policy:  policy,
		maxSize: cfg.MaxUploadSize,
		allowed: cfg.AllowedTypes,
		logger:  logger.With(slog.String("component", "upload_service")),
	}
}

// MaxUploadSize возвращает действующий лимит размера.
func (s *uploadService) MaxUploadSize() int64 { return s.maxSize }

// Upload проверяет файл, записывает объект и затем запись о нем.
// Проверки выполняются до любой записи: размер, тип, владелец.
// Если запись метаданных не удалась, объект остается в хранилище до сверки.
func (s *uploadService) Upload(ctx context.Context, req UploadRequest) (*models.FileRecord, error) {
	rec, err := s.upload(ctx, req)
	observe(opUpload, err)
	return rec, err
}

func (s *uploadService) upload(ctx context.Context, req UploadRequest) (*models.FileRecord, error) {
	if req.Size > s.maxSize {
		return nil, s.tooLarge(req.Size)
	}
	contentType := normalizeContentType(req.ContentType)
	if !s.allowed.Allows(contentType) {
		return nil, fmt.Errorf("%w: %q (разрешены: %s)", ErrUnsupportedType, req.ContentType, s.allowed)
	}
	ownerKey, err := s.policy.OwnerKey(req.Credential)
	if err != nil {
		return nil, err
	}

	// Читаем на байт больше лимита, чтобы обнаружить превышение без доверия заявленному размеру
	limited := io.LimitReader(req.Content, s.maxSize+1)
	blobID, written, err := s.blobs.Put(ctx, limited, req.Size, contentType)
	if err != nil {
		s.logger.Error("Не удалось записать объект", slog.String("error", err.Error()))
		return nil, storageError("запись объекта", err)
	}
	if written > s.maxSize {
		if delErr := s.blobs.Delete(ctx, blobID); delErr != nil {
			s.logger.Warn("Не удалось удалить объект сверх лимита",
				slog.String("blob_id", blobID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, s.tooLarge(written)
	}

	created, err := s.records.Create(ctx, &models.FileRecord{
		BlobID:      blobID,
		Filename:    req.Filename,
		ContentType: contentType,
		Size:        written,
		OwnerKey:    ownerKey,
	})
	if err != nil {
		orphanedBlobsTotal.Inc()
		s.logger.Error("Запись метаданных не удалась, объект осиротел",
			slog.String("blob_id", blobID),
			slog.String("error", err.Error()),
		)
		return nil, storageError("создание записи", err)
	}

	uploadBytes.Observe(float64(written))
	s.logger.Info("Файл загружен",
		slog.String("file_id", created.ID),
		slog.String("blob_id", blobID),
		slog.String("content_type", contentType),
		slog.Int64("size", written),
	)
	return created, nil
}

func (s *uploadService) tooLarge(size int64) error {
	if size == s.maxSize+1 { // Реальный размер неизвестен, прочитано только до лимита
		return fmt.Errorf("%w: больше %s", ErrFileTooLarge, humanize.IBytes(uint64(s.maxSize)))
	}
	return fmt.Errorf("%w: %s при лимите %s",
		ErrFileTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.maxSize)))
}
