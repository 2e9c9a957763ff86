package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/filelocker/internal/access"
	"github.com/maynagashev/filelocker/internal/handlers"
	"github.com/maynagashev/filelocker/internal/models"
	"github.com/maynagashev/filelocker/internal/repository"
	"github.com/maynagashev/filelocker/internal/services"
	"github.com/maynagashev/filelocker/internal/storage"
)

const testMaxUpload = 4096

var testAdminSecret = []byte("test-admin-secret")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memFileRepository - репозиторий в памяти для сквозных тестов HTTP.
type memFileRepository struct {
	mu      sync.Mutex
	records map[string]models.FileRecord
	seq     time.Duration
}

func newMemFileRepository() *memFileRepository {
	return &memFileRepository{records: map[string]models.FileRecord{}}
}

func (r *memFileRepository) Create(_ context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := *rec
	created.ID = uuid.NewString()
	r.seq += time.Millisecond
	created.UploadedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(r.seq)
	created.SavedBy = pq.StringArray{}
	r.records[created.ID] = created
	return &created, nil
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

func (r *memFileRepository) ListByOwnerKey(_ context.Context, key string, includeSaved bool) ([]models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.FileRecord{}
	for _, rec := range r.records {
		if rec.OwnerKey == key || (includeSaved && rec.IsSavedBy(key)) {
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
	rec.SavedBy = append(append(pq.StringArray{}, rec.SavedBy...), userID)
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

// testServer - полный роутер поверх реальных сервисов, файлового хранилища и репозитория в памяти.
type testServer struct {
	router  http.Handler
	blobs   *storage.FSStore
	blobDir string
	records *memFileRepository
}

func newTestServer(t *testing.T, mode access.Mode) *testServer {
	t.Helper()
	logger := discardLogger()
	blobDir := t.TempDir()
	blobs, err := storage.NewFSStore(blobDir, logger)
	require.NoError(t, err)
	records := newMemFileRepository()
	policy, err := access.NewPolicy(mode)
	require.NoError(t, err)

	uploadSvc := services.NewUploadService(blobs, records, policy,
		services.UploadConfig{MaxUploadSize: testMaxUpload}, logger)
	fileSvc := services.NewFileService(blobs, records, policy, logger)
	reconciler := services.NewReconcileService(blobs, records, services.ReconcileConfig{GracePeriod: time.Hour}, logger)

	router := handlers.NewRouter(handlers.RouterConfig{
		Files:       handlers.NewFileHandler(uploadSvc, fileSvc, logger),
		Health:      handlers.NewHealthHandler(nil, storage.NewReadinessChecker(blobs)),
		Maintenance: handlers.NewMaintenanceHandler(reconciler, logger),
		AdminSecret: testAdminSecret,
		Logger:      logger,
	})
	return &testServer{router: router, blobs: blobs, blobDir: blobDir, records: records}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

// uploadRequest строит multipart-запрос загрузки. Пустые поля не добавляются.
func uploadRequest(t *testing.T, filename, contentType string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if content != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, v interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

type uploadResponse struct {
	FileID      string    `json:"fileId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadDate  time.Time `json:"uploadDate"`
}
