package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/maynagashev/filelocker/internal/models"
)

// FileRepository определяет методы для работы с метаданными файлов.
type FileRepository interface {
	// Create сохраняет запись и возвращает ее с заполненными ID и UploadedAt.
	Create(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error)
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)
	// ListByOwnerKey возвращает файлы владельца, новые первыми.
	// При includeSaved в список попадают и файлы, сохраненные пользователем ownerKey.
	ListByOwnerKey(ctx context.Context, ownerKey string, includeSaved bool) ([]models.FileRecord, error)
	DeleteByID(ctx context.Context, id string) error
	AppendSavedBy(ctx context.Context, id, userID string) error
	ListBlobIDs(ctx context.Context) ([]models.BlobRef, error)
}

const pgUniqueViolation = "23505"

const fileColumns = `id, blob_id, filename, content_type, size_bytes, owner_key, uploaded_at, saved_by`

// postgresFileRepository реализует FileRepository для PostgreSQL.
type postgresFileRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ FileRepository = (*postgresFileRepository)(nil)

// NewPostgresFileRepository создает новый экземпляр репозитория файлов.
func NewPostgresFileRepository(db *sqlx.DB, logger *slog.Logger) FileRepository {
	return &postgresFileRepository{
		db:     db,
		logger: logger.With(slog.String("component", "file_repository")),
	}
}

// Create вставляет запись. ID и время загрузки назначает БД.
func (r *postgresFileRepository) Create(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	query := `INSERT INTO file_records (blob_id, filename, content_type, size_bytes, owner_key)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id, uploaded_at`

	created := *rec
	created.SavedBy = pq.StringArray{}
	err := r.db.QueryRowxContext(ctx, query,
		rec.BlobID, rec.Filename, rec.ContentType, rec.Size, rec.OwnerKey,
	).Scan(&created.ID, &created.UploadedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("объект '%s' уже привязан к записи: %w", rec.BlobID, ErrDuplicateBlob)
		}
		return nil, fmt.Errorf("ошибка выполнения запроса на создание записи: %w", err)
	}

	r.logger.Debug("Запись о файле создана",
		slog.String("file_id", created.ID),
		slog.String("blob_id", created.BlobID),
	)
	return &created, nil
}

// GetByID находит запись по ID. Некорректный UUID считается отсутствующей записью.
func (r *postgresFileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrFileNotFound
	}

	query := `SELECT ` + fileColumns + ` FROM file_records WHERE id = $1`
	var rec models.FileRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("ошибка выполнения запроса на получение записи: %w", err)
	}
	return &rec, nil
}

// ListByOwnerKey возвращает записи владельца, отсортированные по времени загрузки.
func (r *postgresFileRepository) ListByOwnerKey(
	ctx context.Context,
	ownerKey string,
	includeSaved bool,
) ([]models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM file_records WHERE owner_key = $1`
	if includeSaved {
		query += ` OR $1 = ANY(saved_by)`
	}
	query += ` ORDER BY uploaded_at DESC`

	records := []models.FileRecord{}
	if err := r.db.SelectContext(ctx, &records, query, ownerKey); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса на список файлов: %w", err)
	}
	return records, nil
}

// DeleteByID удаляет запись. Если ничего не удалено, возвращает ErrFileNotFound.
func (r *postgresFileRepository) DeleteByID(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrFileNotFound
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка выполнения запроса на удаление записи: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа удаленных строк: %w", err)
	}
	if affected == 0 {
		return ErrFileNotFound
	}
	return nil
}

// AppendSavedBy добавляет пользователя в saved_by.
// Проверка и добавление выполняются разными запросами, поэтому
// два одновременных сохранения одним пользователем могут дать дубль.
func (r *postgresFileRepository) AppendSavedBy(ctx context.Context, id, userID string) error {
	rec, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsSavedBy(userID) {
		return ErrAlreadySaved
	}

	query := `UPDATE file_records SET saved_by = array_append(saved_by, $2) WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("ошибка выполнения запроса на сохранение файла: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа обновленных строк: %w", err)
	}
	if affected == 0 {
		// Запись удалили между чтением и обновлением
		return ErrFileNotFound
	}

	r.logger.Debug("Файл сохранен пользователем", slog.String("file_id", id))
	return nil
}

// ListBlobIDs возвращает пары (запись, объект) всех записей.
func (r *postgresFileRepository) ListBlobIDs(ctx context.Context) ([]models.BlobRef, error) {
	refs := []models.BlobRef{}
	if err := r.db.SelectContext(ctx, &refs, `SELECT id, blob_id FROM file_records`); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса на список объектов: %w", err)
	}
	return refs, nil
}

// Ошибки репозитория.
var (
	ErrFileNotFound  = errors.New("запись о файле не найдена")
	ErrAlreadySaved  = errors.New("файл уже сохранен этим пользователем")
	ErrDuplicateBlob = errors.New("объект уже используется другой записью")
)
