package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maynagashev/filelocker/internal/apierrors"
	"github.com/maynagashev/filelocker/internal/services"
)

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrFileTooLarge):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeFileTooLarge, err.Error())
	case errors.Is(err, services.ErrUnsupportedType):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeUnsupportedType, err.Error())
	case errors.Is(err, services.ErrMissingOwner):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeMissingOwner,
			"Укажите userId или accessCode в соответствии с режимом сервера")
	case errors.Is(err, services.ErrFileNotFound):
		apierrors.WriteError(w, http.StatusNotFound, apierrors.CodeNotFound, "Файл не найден")
	case errors.Is(err, services.ErrAccessDenied):
		apierrors.WriteError(w, http.StatusForbidden, apierrors.CodeForbidden, "Доступ к файлу запрещен")
	case errors.Is(err, services.ErrAlreadySaved):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeAlreadySaved, "Файл уже сохранен")
	case errors.Is(err, services.ErrSaveUnsupported):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeSaveNotSupported, err.Error())
	case errors.Is(err, services.ErrReconcileInProgress):
		apierrors.WriteError(w, http.StatusConflict, apierrors.CodeReconcileInProgress, "Сверка уже выполняется")
	case errors.Is(err, context.Canceled):
		// Клиент отключился, отвечать некому
		logger.Debug("Запрос отменен клиентом", slog.String("error", err.Error()))
	case errors.Is(err, services.ErrStorageUnavailable):
		logger.ErrorContext(r.Context(), "Хранилище недоступно", slog.String("error", err.Error()))
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodeStorageUnavailable,
			"Хранилище временно недоступно")
	default:
		logger.ErrorContext(r.Context(), "Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
