package services_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/mock"

	"github.com/maynagashev/filelocker/internal/models"
	"github.com/maynagashev/filelocker/internal/repository"
	"github.com/maynagashev/filelocker/internal/storage"
)

// --- Mocks ---

// MockBlobStore - мок для storage.BlobStore.
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, r io.Reader, size int64, contentType string) (string, int64, error) {
	args := m.Called(ctx, r, size, contentType)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.String(0), args.Get(1).(int64), args.Error(2)
}

func (m *MockBlobStore) Open(ctx context.Context, blobID string) (io.ReadCloser, error) {
	args := m.Called(ctx, blobID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(io.ReadCloser), args.Error(1)
}

func (m *MockBlobStore) Delete(ctx context.Context, blobID string) error {
	return m.Called(ctx, blobID).Error(0)
}

func (m *MockBlobStore) List(ctx context.Context) ([]storage.BlobInfo, error) {
	args := m.Called(ctx)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.([]storage.BlobInfo), args.Error(1)
}

func (m *MockBlobStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockFileRepository - мок для repository.FileRepository.
type MockFileRepository struct {
	mock.Mock
}

func (m *MockFileRepository) Create(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	args := m.Called(ctx, rec)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.FileRecord), args.Error(1)
}

func (m *MockFileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	args := m.Called(ctx, id)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.FileRecord), args.Error(1)
}

func (m *MockFileRepository) ListByOwnerKey(
	ctx context.Context,
	ownerKey string,
	includeSaved bool,
) ([]models.FileRecord, error) {
	args := m.Called(ctx, ownerKey, includeSaved)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.([]models.FileRecord), args.Error(1)
}

func (m *MockFileRepository) DeleteByID(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockFileRepository) AppendSavedBy(ctx context.Context, id, userID string) error {
	return m.Called(ctx, id, userID).Error(0)
}

func (m *MockFileRepository) ListBlobIDs(ctx context.Context) ([]models.BlobRef, error) {
	args := m.Called(ctx)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.([]models.BlobRef), args.Error(1)
}

// --- Fakes ---

// memFileRepository - потокобезопасный репозиторий в памяти с семантикой PostgreSQL-реализации.
type memFileRepository struct {
	mu      sync.Mutex
	records map[string]models.FileRecord
	seq     time.Duration
}

var _ repository.FileRepository = (*memFileRepository)(nil)

func newMemFileRepository() *memFileRepository {
	return &memFileRepository{records: map[string]models.FileRecord{}}
}

func (r *memFileRepository) Create(_ context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.BlobID == rec.BlobID {
			return nil, repository.ErrDuplicateBlob
		}
	}
	created := *rec
	created.ID = uuid.NewString()
	// Монотонное время, чтобы порядок списка был детерминирован
	r.seq += time.Millisecond
	created.UploadedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(r.seq)
	created.SavedBy = pq.StringArray{}
	r.records[created.ID] = created
	out := created
	return &out, nil
}

func (r *memFileRepository) GetByID(_ context.Context, id string) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrFileNotFound
	}
	rec.SavedBy = append(pq.StringArray{}, rec.SavedBy...)
	return &rec, nil
}

func (r *memFileRepository) ListByOwnerKey(
	_ context.Context,
	ownerKey string,
	includeSaved bool,
) ([]models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.FileRecord{}
	for _, rec := range r.records {
		if rec.OwnerKey == ownerKey || (includeSaved && rec.IsSavedBy(ownerKey)) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (r *memFileRepository) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return repository.ErrFileNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memFileRepository) AppendSavedBy(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return repository.ErrFileNotFound
	}
	if rec.IsSavedBy(userID) {
		return repository.ErrAlreadySaved
	}
	rec.SavedBy = append(rec.SavedBy, userID)
	r.records[id] = rec
	return nil
}

func (r *memFileRepository) ListBlobIDs(_ context.Context) ([]models.BlobRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make([]models.BlobRef, 0, len(r.records))
	for _, rec := range r.records {
		refs = append(refs, models.BlobRef{ID: rec.ID, BlobID: rec.BlobID})
	}
	return refs, nil
}

func (r *memFileRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
