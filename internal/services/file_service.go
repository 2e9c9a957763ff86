package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/maynagashev/filelocker/internal/access"
	"github.com/maynagashev/filelocker/internal/models"
	"github.com/maynagashev/filelocker/internal/repository"
	"github.com/maynagashev/filelocker/internal/storage"
)

// Download - открытый поток файла и его метаданные. Вызывающий обязан закрыть Content.
type Download struct {
	Content     io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// FileService определяет операции над загруженными файлами.
type FileService interface {
	Download(ctx context.Context, fileID string, cred access.Credential) (*Download, error)
	Delete(ctx context.Context, fileID string, cred access.Credential) error
	// Save добавляет файл в список сохраненных пользователем (только режим владельца).
	Save(ctx context.Context, fileID, userID string) error
	List(ctx context.Context, cred access.Credential) ([]models.FileRecord, error)
}

type fileService struct {
	blobs   storage.BlobStore
	records repository.FileRepository
	policy  access.Policy
	logger  *slog.Logger
}

var _ FileService = (*fileService)(nil)

// NewFileService создает сервис работы с файлами.
func NewFileService(
	blobs storage.BlobStore,
	records repository.FileRepository,
	policy access.Policy,
	logger *slog.Logger,
) FileService {
	return &fileService{
		blobs:   blobs,
		records: records,
		policy:  policy,
		logger:  logger.With(slog.String("component", "file_service")),
	}
}

// Download проверяет доступ и открывает поток объекта.
func (s *fileService) Download(ctx context.Context, fileID string, cred access.Credential) (*Download, error) {
	d, err := s.download(ctx, fileID, cred)
	observe(opDownload, err)
	return d, err
}

func (s *fileService) download(ctx context.Context, fileID string, cred access.Credential) (*Download, error) {
	rec, err := s.lookup(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanRead(rec, cred) {
		return nil, ErrAccessDenied
	}

	content, err := s.blobs.Open(ctx, rec.BlobID)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Warn("Запись ссылается на отсутствующий объект",
				slog.String("file_id", rec.ID),
				slog.String("blob_id", rec.BlobID),
			)
			return nil, ErrFileNotFound
		}
		return nil, storageError("открытие объекта", err)
	}

	return &Download{
		Content:     content,
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		Size:        rec.Size,
	}, nil
}

// Delete удаляет сначала объект, затем запись.
// Если объекта уже нет, запись все равно удаляется.
func (s *fileService) Delete(ctx context.Context, fileID string, cred access.Credential) error {
	err := s.delete(ctx, fileID, cred)
	observe(opDelete, err)
	return err
}

func (s *fileService) delete(ctx context.Context, fileID string, cred access.Credential) error {
	rec, err := s.lookup(ctx, fileID)
	if err != nil {
		return err
	}
	if !s.policy.CanDelete(rec, cred) {
		return ErrAccessDenied
	}

	if err = s.blobs.Delete(ctx, rec.BlobID); err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			return storageError("удаление объекта", err)
		}
		s.logger.Warn("Объект уже отсутствует, удаляем висячую запись",
			slog.String("file_id", rec.ID),
			slog.String("blob_id", rec.BlobID),
		)
	}

	if err = s.records.DeleteByID(ctx, rec.ID); err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			// Параллельное удаление уже убрало запись
			return nil
		}
		s.logger.Error("Объект удален, но запись осталась",
			slog.String("file_id", rec.ID),
			slog.String("blob_id", rec.BlobID),
			slog.String("error", err.Error()),
		)
		return storageError("удаление записи", err)
	}

	s.logger.Info("Файл удален", slog.String("file_id", rec.ID))
	return nil
}

// Save отмечает файл как сохраненный пользователем.
func (s *fileService) Save(ctx context.Context, fileID, userID string) error {
	err := s.save(ctx, fileID, userID)
	observe(opSave, err)
	return err
}

func (s *fileService) save(ctx context.Context, fileID, userID string) error {
	if s.policy.Mode() != access.ModeOwner {
		return ErrSaveUnsupported
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingOwner
	}

	err := s.records.AppendSavedBy(ctx, fileID, userID)
	switch {
	case err == nil:
		s.logger.Info("Файл сохранен пользователем", slog.String("file_id", fileID))
		return nil
	case errors.Is(err, repository.ErrFileNotFound):
		return ErrFileNotFound
	case errors.Is(err, repository.ErrAlreadySaved):
		return ErrAlreadySaved
	default:
		return storageError("сохранение файла", err)
	}
}

// List возвращает файлы владельца, а в режиме владельца и сохраненные им.
func (s *fileService) List(ctx context.Context, cred access.Credential) ([]models.FileRecord, error) {
	records, err := s.list(ctx, cred)
	observe(opList, err)
	return records, err
}

func (s *fileService) list(ctx context.Context, cred access.Credential) ([]models.FileRecord, error) {
	ownerKey, err := s.policy.OwnerKey(cred)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListByOwnerKey(ctx, ownerKey, s.policy.IncludeSaved())
	if err != nil {
		return nil, storageError("список файлов", err)
	}
	return records, nil
}

// lookup загружает запись и переводит ошибки репозитория в ошибки сервиса.
func (s *fileService) lookup(ctx context.Context, fileID string) (*models.FileRecord, error) {
	rec, err := s.records.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, storageError("поиск записи", err)
	}
	return rec, nil
}
