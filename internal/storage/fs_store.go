package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const tmpSuffix = ".tmp"

// FSStore хранит объекты файлами в локальной директории.
// Имя файла совпадает с ключом объекта (UUID).
type FSStore struct {
	dir    string
	logger *slog.Logger
}

var _ BlobStore = (*FSStore)(nil)

// NewFSStore создает хранилище и директорию под него.
func NewFSStore(dir string, logger *slog.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dir, err)
	}
	return &FSStore{dir: dir, logger: logger.With(slog.String("component", "fs_store"))}, nil
}

// Put записывает объект: temp файл, запись, fsync, атомарный rename.
// При ошибке temp файл удаляется.
func (s *FSStore) Put(ctx context.Context, reader io.Reader, _ int64, _ string) (string, int64, error) {
	blobID := uuid.NewString()
	fullPath := filepath.Join(s.dir, blobID)
	tmpPath := fullPath + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, unavailable("создание временного файла", err)
	}

	size, err := io.Copy(f, &ctxReader{ctx: ctx, r: reader})
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", 0, unavailable("запись данных", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", 0, unavailable("fsync", err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, unavailable("закрытие файла", err)
	}
	if err = os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, unavailable("атомарное переименование", err)
	}

	s.logger.Debug("Объект записан", slog.String("blob_id", blobID), slog.Int64("size", size))
	return blobID, size, nil
}

// Open открывает файл объекта на чтение.
func (s *FSStore) Open(_ context.Context, blobID string) (io.ReadCloser, error) {
	path, err := s.path(blobID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("объект '%s': %w", blobID, ErrObjectNotFound)
		}
		return nil, unavailable("открытие объекта", err)
	}
	return f, nil
}

// Delete удаляет файл объекта.
func (s *FSStore) Delete(_ context.Context, blobID string) error {
	path, err := s.path(blobID)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("объект '%s': %w", blobID, ErrObjectNotFound)
		}
		return unavailable("удаление объекта", err)
	}
	return nil
}

// List перечисляет объекты директории. Незавершенные temp файлы пропускаются.
func (s *FSStore) List(_ context.Context) ([]BlobInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, unavailable("чтение директории", err)
	}
	blobs := make([]BlobInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tmpSuffix) {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue // файл удален между ReadDir и Info
		}
		blobs = append(blobs, BlobInfo{ID: entry.Name(), Size: info.Size(), ModifiedAt: info.ModTime()})
	}
	return blobs, nil
}

// Ping проверяет, что директория доступна.
func (s *FSStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return unavailable("проверка директории", err)
	}
	return nil
}

// path строит путь к объекту. Ключ обязан быть UUID, иначе объект считается отсутствующим.
func (s *FSStore) path(blobID string) (string, error) {
	if _, err := uuid.Parse(blobID); err != nil {
		return "", fmt.Errorf("некорректный ключ объекта '%s': %w", blobID, ErrObjectNotFound)
	}
	return filepath.Join(s.dir, blobID), nil
}

// ctxReader прерывает чтение после отмены контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
