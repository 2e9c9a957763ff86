package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/maynagashev/filelocker/internal/access"
)

// Ошибки сервисного слоя. Обработчики HTTP сопоставляют их с кодами ответа.
var (
	ErrFileTooLarge       = errors.New("размер файла превышает допустимый")
	ErrUnsupportedType    = errors.New("тип файла не поддерживается")
	ErrMissingOwner       = access.ErrMissingOwner
	ErrFileNotFound       = errors.New("файл не найден")
	ErrAccessDenied       = errors.New("доступ к файлу запрещен")
	ErrAlreadySaved       = errors.New("файл уже сохранен")
	ErrStorageUnavailable = errors.New("хранилище временно недоступно")
	ErrSaveUnsupported    = errors.New("сохранение доступно только в режиме владельца")
)

// storageError оборачивает ошибку нижнего слоя в ErrStorageUnavailable.
// Отмена контекста клиента возвращается без обертки.
func storageError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
