// Сверка объектного хранилища с таблицей записей.
//
// Загрузка пишет сначала объект, затем запись, удаление идет в обратном порядке.
// Сбой между шагами оставляет:
//   - orphaned_blob: объект без записи (старше grace-периода);
//   - dangling_record: запись, чей объект отсутствует.
//
// Запускается вручную (POST /api/maintenance/reconcile) или тикером.
package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maynagashev/filelocker/internal/repository"
	"github.com/maynagashev/filelocker/internal/storage"
)

// Prometheus метрики сверки.
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filelocker_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filelocker_reconcile_issues_total",
		Help: "Проблемы, обнаруженные сверкой, по типу",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filelocker_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// DefaultReconcileGrace - возраст объекта, после которого он может считаться осиротевшим.
const DefaultReconcileGrace = time.Hour

// ErrReconcileInProgress возвращается, если сверка уже выполняется.
var ErrReconcileInProgress = errors.New("сверка уже выполняется")

// Типы проблем сверки.
const (
	IssueOrphanedBlob   = "orphaned_blob"
	IssueDanglingRecord = "dangling_record"
)

// ReconcileIssue - одна найденная проблема.
type ReconcileIssue struct {
	Type     string `json:"type"`
	BlobID   string `json:"blobId"`
	FileID   string `json:"fileId,omitempty"`
	Repaired bool   `json:"repaired"`
	Error    string `json:"error,omitempty"`
}

// ReconcileReport - результат одного прохода.
type ReconcileReport struct {
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    time.Time        `json:"completedAt"`
	RecordsChecked int              `json:"recordsChecked"`
	BlobsChecked   int              `json:"blobsChecked"`
	Issues         []ReconcileIssue `json:"issues"`
	Repair         bool             `json:"repair"`
}

// ReconcileConfig - параметры сверки.
type ReconcileConfig struct {
	Interval    time.Duration // 0 - только ручной запуск
	GracePeriod time.Duration // Объекты моложе не считаются осиротевшими
	Repair      bool          // Удалять найденное, иначе только отчет
}

// ReconcileService - сервис сверки хранилища и записей.
type ReconcileService struct {
	blobs   storage.BlobStore
	records repository.FileRepository
	cfg     ReconcileConfig
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создает сервис сверки.
func NewReconcileService(
	blobs storage.BlobStore,
	records repository.FileRepository,
	cfg ReconcileConfig,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		blobs:   blobs,
		records: records,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "reconcile")),
		now:     time.Now,
	}
}

// Start запускает фоновую сверку по тикеру. При нулевом интервале ничего не делает.
func (rs *ReconcileService) Start(ctx context.Context) {
	if rs.cfg.Interval <= 0 {
		return
	}
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.cfg.Interval.String()),
		slog.Bool("repair", rs.cfg.Repair),
	)
}

// Stop останавливает фоновую сверку и ждет завершения текущего прохода.
func (rs *ReconcileService) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	<-rs.done
	rs.logger.Info("Сверка остановлена")
}

func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)
	ticker := time.NewTicker(rs.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rs.RunOnce(ctx); err != nil && !errors.Is(err, ErrReconcileInProgress) {
				rs.logger.Error("Ошибка сверки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если проход уже идет, возвращает ErrReconcileInProgress.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, ErrReconcileInProgress
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{StartedAt: rs.now().UTC(), Repair: rs.cfg.Repair, Issues: []ReconcileIssue{}}
	rs.logger.Info("Сверка начата")

	// Записи читаются раньше объектов: объект, записанный после чтения записей,
	// будет моложе grace-периода и не попадет в осиротевшие.
	refs, err := rs.records.ListBlobIDs(ctx)
	if err != nil {
		return nil, storageError("список записей", err)
	}
	blobs, err := rs.blobs.List(ctx)
	if err != nil {
		return nil, storageError("список объектов", err)
	}
	report.RecordsChecked = len(refs)
	report.BlobsChecked = len(blobs)

	referenced := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		referenced[ref.BlobID] = struct{}{}
	}
	present := make(map[string]struct{}, len(blobs))
	for _, b := range blobs {
		present[b.ID] = struct{}{}
	}

	cutoff := rs.now().Add(-rs.cfg.GracePeriod)
	for _, b := range blobs {
		if _, ok := referenced[b.ID]; ok || b.ModifiedAt.After(cutoff) {
			continue
		}
		report.Issues = append(report.Issues, rs.handleOrphanedBlob(ctx, b.ID))
	}
	for _, ref := range refs {
		if _, ok := present[ref.BlobID]; ok {
			continue
		}
		issue, skip := rs.handleDanglingRecord(ctx, ref.ID, ref.BlobID)
		if !skip {
			report.Issues = append(report.Issues, issue)
		}
	}

	report.CompletedAt = rs.now().UTC()
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())
	for _, issue := range report.Issues {
		reconcileIssuesTotal.WithLabelValues(issue.Type).Inc()
	}

	rs.logger.Info("Сверка завершена",
		slog.Int("records", report.RecordsChecked),
		slog.Int("blobs", report.BlobsChecked),
		slog.Int("issues", len(report.Issues)),
	)
	return report, nil
}

func (rs *ReconcileService) handleOrphanedBlob(ctx context.Context, blobID string) ReconcileIssue {
	issue := ReconcileIssue{Type: IssueOrphanedBlob, BlobID: blobID}
	rs.logger.Warn("Найден объект без записи", slog.String("blob_id", blobID))
	if !rs.cfg.Repair {
		return issue
	}
	if err := rs.blobs.Delete(ctx, blobID); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		issue.Error = err.Error()
		return issue
	}
	issue.Repaired = true
	return issue
}

// handleDanglingRecord перепроверяет отсутствие объекта перед удалением записи.
// skip == true, если объект нашелся (запись создана после чтения списка объектов).
func (rs *ReconcileService) handleDanglingRecord(
	ctx context.Context,
	fileID, blobID string,
) (issue ReconcileIssue, skip bool) {
	issue = ReconcileIssue{Type: IssueDanglingRecord, BlobID: blobID, FileID: fileID}

	rc, err := rs.blobs.Open(ctx, blobID)
	if err == nil {
		_ = rc.Close()
		return issue, true
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		issue.Error = err.Error()
		return issue, false
	}

	rs.logger.Warn("Найдена запись без объекта",
		slog.String("file_id", fileID),
		slog.String("blob_id", blobID),
	)
	if !rs.cfg.Repair {
		return issue, false
	}
	if err = rs.records.DeleteByID(ctx, fileID); err != nil && !errors.Is(err, repository.ErrFileNotFound) {
		issue.Error = err.Error()
		return issue, false
	}
	issue.Repaired = true
	return issue, false
}
