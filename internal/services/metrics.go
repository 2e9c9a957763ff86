package services

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Бизнес-метрики файлового сервиса.
var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filelocker_operations_total",
		Help: "Количество операций с файлами по типу и результату",
	}, []string{"operation", "result"})

	uploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filelocker_upload_bytes",
		Help:    "Размер успешно загруженных файлов в байтах",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1 KiB .. 256 MiB
	})

	orphanedBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filelocker_orphaned_blobs_total",
		Help: "Объекты, оставшиеся без записи после сбоя записи метаданных",
	})
)

// Операции для метки operation.
const (
	opUpload   = "upload"
	opDownload = "download"
	opDelete   = "delete"
	opSave     = "save"
	opList     = "list"
)

// observe учитывает результат операции.
func observe(op string, err error) {
	operationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFileTooLarge):
		return "too_large"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrMissingOwner):
		return "missing_owner"
	case errors.Is(err, ErrFileNotFound):
		return "not_found"
	case errors.Is(err, ErrAccessDenied):
		return "denied"
	case errors.Is(err, ErrAlreadySaved):
		return "already_saved"
	case errors.Is(err, ErrSaveUnsupported):
		return "save_unsupported"
	case errors.Is(err, ErrStorageUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
