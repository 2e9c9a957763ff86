package models

import (
	"time"

	"github.com/lib/pq"
)

// FileRecord представляет метаданные загруженного файла.
// Сам файл хранится в объектном хранилище под ключом BlobID.
type FileRecord struct {
	// ID генерируется БД при создании.
	ID string `db:"id" json:"fileId"`

	// BlobID - ключ объекта в хранилище, неизменяем.
	BlobID string `db:"blob_id" json:"-"`

	// Filename - исходное имя файла от клиента.
	Filename    string `db:"filename" json:"filename"`
	ContentType string `db:"content_type" json:"contentType"`

	// Size - реально записанное количество байт.
	Size int64 `db:"size_bytes" json:"size"`

	// OwnerKey - userId или SHA-256 кода доступа.
	OwnerKey   string    `db:"owner_key" json:"-"`
	UploadedAt time.Time `db:"uploaded_at" json:"uploadDate"`

	// SavedBy - пользователи, сохранившие файл себе.
	SavedBy pq.StringArray `db:"saved_by" json:"-"`
}

// IsSavedBy сообщает, сохранял ли пользователь этот файл.
func (f *FileRecord) IsSavedBy(userID string) bool {
	for _, id := range f.SavedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// FileSummary - краткое описание файла для ответов API.
type FileSummary struct {
	FileID      string    `json:"fileId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadDate  time.Time `json:"uploadDate"`
}

// Summary возвращает краткое описание записи.
func (f *FileRecord) Summary() FileSummary {
	return FileSummary{
		FileID:      f.ID,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Size:        f.Size,
		UploadDate:  f.UploadedAt,
	}
}

// BlobRef связывает запись с ключом объекта. Используется при сверке.
type BlobRef struct {
	ID     string `db:"id"`
	BlobID string `db:"blob_id"`
}
