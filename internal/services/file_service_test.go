package services_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/filelocker/internal/access"
	"github.com/maynagashev/filelocker/internal/models"
	"github.com/maynagashev/filelocker/internal/repository"
	"github.com/maynagashev/filelocker/internal/services"
	"github.com/maynagashev/filelocker/internal/storage"
)

// mustUpload загружает небольшой PDF от имени cred.
func mustUpload(t *testing.T, env *testEnv, cred access.Credential, name string) *models.FileRecord {
	t.Helper()
	rec, err := env.upload.Upload(context.Background(), services.UploadRequest{
		Content: strings.NewReader("%PDF-1.7 " + name), Filename: name, ContentType: "application/pdf",
		Size: -1, Credential: cred,
	})
	require.NoError(t, err)
	return rec
}

func TestDownload_Authorization(t *testing.T) {
	tests := []struct {
		name        string
		mode        access.Mode
		owner       access.Credential
		requester   access.Credential
		expectedErr error
	}{
		{
			name:      "Владелец читает свой файл",
			mode:      access.ModeOwner,
			owner:     access.Credential{UserID: "alice"},
			requester: access.Credential{UserID: "alice"},
		},
		{
			name:        "Чужой пользователь",
			mode:        access.ModeOwner,
			owner:       access.Credential{UserID: "alice"},
			requester:   access.Credential{UserID: "mallory"},
			expectedErr: services.ErrAccessDenied,
		},
		{
			name:        "Без учетных данных",
			mode:        access.ModeOwner,
			owner:       access.Credential{UserID: "alice"},
			expectedErr: services.ErrAccessDenied,
		},
		{
			name:      "Верный код",
			mode:      access.ModeCode,
			owner:     access.Credential{AccessCode: "secret123"},
			requester: access.Credential{AccessCode: "secret123"},
		},
		{
			name:        "Неверный код",
			mode:        access.ModeCode,
			owner:       access.Credential{AccessCode: "secret123"},
			requester:   access.Credential{AccessCode: "wrong"},
			expectedErr: services.ErrAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.mode)
			rec := mustUpload(t, env, tt.owner, "doc.pdf")

			d, err := env.files.Download(context.Background(), rec.ID, tt.requester)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, d)
				return
			}
			require.NoError(t, err)
			require.NoError(t, d.Content.Close())
		})
	}
}

func TestDownload_NotFound(t *testing.T) {
	env := newTestEnv(t, access.ModeOwner)

	_, err := env.files.Download(context.Background(), "6f1c1e4e-8c3a-4bd4-9a9e-2f0d6f3b9b11",
		access.Credential{UserID: "alice"})
	require.ErrorIs(t, err, services.ErrFileNotFound)
}

func TestDownload_MissingBlobReportedAsNotFound(t *testing.T) {
	env := newTestEnv(t, access.ModeOwner)
	ctx := context.Background()
	cred := access.Credential{UserID: "alice"}
	rec := mustUpload(t, env, cred, "a.pdf")
	require.NoError(t, env.blobs.Delete(ctx, rec.BlobID))

	_, err := env.files.Download(ctx, rec.ID, cred)
	require.ErrorIs(t, err, services.ErrFileNotFound)
}

func TestDelete_RemovesBothAndIsIdempotentInEffect(t *testing.T) {
	env := newTestEnv(t, access.ModeCode)
	ctx := context.Background()
	cred := access.Credential{AccessCode: "secret123"}
	rec := mustUpload(t, env, cred, "a.pdf")

	require.ErrorIs(t, env.files.Delete(ctx, rec.ID, access.Credential{AccessCode: "nope"}), services.ErrAccessDenied)

	require.NoError(t, env.files.Delete(ctx, rec.ID, cred))
	env.assertStoresEmpty(t)

	require.ErrorIs(t, env.files.Delete(ctx, rec.ID, cred), services.ErrFileNotFound)
	_, err := env.files.Download(ctx, rec.ID, cred)
	require.ErrorIs(t, err, services.ErrFileNotFound)
}

func TestDelete_OnlyOwnerInOwnerMode(t *testing.T) {
	env := newTestEnv(t, access.ModeOwner)
	ctx := context.Background()
	rec := mustUpload(t, env, access.Credential{UserID: "alice"}, "a.pdf")
	require.NoError(t, env.files.Save(ctx, rec.ID, "bob"))

	require.ErrorIs(t, env.files.Delete(ctx, rec.ID, access.Credential{UserID: "bob"}), services.ErrAccessDenied)
	require.NoError(t, env.files.Delete(ctx, rec.ID, access.Credential{UserID: "alice"}))
}

func TestDelete_BlobAlreadyMissing(t *testing.T) {
	env := newTestEnv(t, access.ModeOwner)
	ctx := context.Background()
	cred := access.Credential{UserID: "alice"}
	rec := mustUpload(t, env, cred, "a.pdf")
	require.NoError(t, env.blobs.Delete(ctx, rec.BlobID))

	require.NoError(t, env.files.Delete(ctx, rec.ID, cred))
	assert.Zero(t, env.records.count())
}

func TestDelete_FailureModes(t *testing.T) {
	rec := &models.FileRecord{ID: "file-1", BlobID: "blob-1", OwnerKey: "alice"}
	cred := access.Credential{UserID: "alice"}

	tests := []struct {
		name        string
		setup       func(blobs *MockBlobStore, records *MockFileRepository)
		expectedErr error
	}{
		{
			name: "Хранилище объектов недоступно",
			setup: func(blobs *MockBlobStore, records *MockFileRepository) {
				records.On("GetByID", mock.Anything, "file-1").Return(rec, nil).Once()
				blobs.On("Delete", mock.Anything, "blob-1").Return(storage.ErrUnavailable).Once()
			},
			expectedErr: services.ErrStorageUnavailable,
		},
		{
			name: "Объект удален, запись нет",
			setup: func(blobs *MockBlobStore, records *MockFileRepository) {
				records.On("GetByID", mock.Anything, "file-1").Return(rec, nil).Once()
				blobs.On("Delete", mock.Anything, "blob-1").Return(nil).Once()
				records.On("DeleteByID", mock.Anything, "file-1").Return(errors.New("db down")).Once()
			},
			expectedErr: services.ErrStorageUnavailable,
		},
		{
			name: "Запись удалена параллельно",
			setup: func(blobs *MockBlobStore, records *MockFileRepository) {
				records.On("GetByID", mock.Anything, "file-1").Return(rec, nil).Once()
				blobs.On("Delete", mock.Anything, "blob-1").Return(nil).Once()
				records.On("DeleteByID", mock.Anything, "file-1").Return(repository.ErrFileNotFound).Once()
			},
		},
		{
			name: "Ошибка чтения записи",
			setup: func(_ *MockBlobStore, records *MockFileRepository) {
				records.On("GetByID", mock.Anything, "file-1").Return(nil, errors.New("timeout")).Once()
			},
			expectedErr: services.ErrStorageUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := new(MockBlobStore)
			records := new(MockFileRepository)
			tt.setup(blobs, records)
			svc := services.NewFileService(blobs, records, access.OwnerIdentityPolicy{}, discardLogger())

			err := svc.Delete(context.Background(), "file-1", cred)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}
			blobs.AssertExpectations(t)
			records.AssertExpectations(t)
		})
	}
}

func TestSave_Monotonic(t *testing.T) {
	env := newTestEnv(t, access.ModeOwner)
	ctx := context.Background()
	rec := mustUpload(t, env, access.Credential{UserID: "alice"}, "shared.pdf")

	require.NoError(t, env.files.Save(ctx, rec.ID, "bob"))
	require.ErrorIs(t, env.files.Save(ctx, rec.ID, "bob"), services.ErrAlreadySaved)
	require.NoError(t, env.files.Save(ctx, rec.ID, "carol"))

	stored, err := env.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, pq.StringArray{"bob", "carol"}, stored.SavedBy)

	// Сохранивший может скачать, но не удалить
	d, err := env.files.Download(ctx, rec.ID, access.Credential{UserID: "bob"})
	require.NoError(t, err)
	got, err := io.ReadAll(d.Content)
	require.NoError(t, err)
	require.NoError(t, d.Content.Close())
	assert.True(t, bytes.HasPrefix(got, []byte("%PDF")))

	list, err := env.files.List(ctx, access.Credential{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestSave_Errors(t *testing.T) {
	t.Run("Режим кода", func(t *testing.T) {
		env := newTestEnv(t, access.ModeCode)
		rec := mustUpload(t, env, access.Credential{AccessCode: "c"}, "a.pdf")
		require.ErrorIs(t, env.files.Save(context.Background(), rec.ID, "bob"), services.ErrSaveUnsupported)
	})

	t.Run("Без пользователя", func(t *testing.T) {
		env := newTestEnv(t, access.ModeOwner)
		rec := mustUpload(t, env, access.Credential{UserID: "alice"}, "a.pdf")
		require.ErrorIs(t, env.files.Save(context.Background(), rec.ID, "  "), services.ErrMissingOwner)
	})

	t.Run("Файл не найден", func(t *testing.T) {
		env := newTestEnv(t, access.ModeOwner)
		require.ErrorIs(t, env.files.Save(context.Background(), "missing", "bob"), services.ErrFileNotFound)
	})

	t.Run("Ошибка БД", func(t *testing.T) {
		records := new(MockFileRepository)
		records.On("AppendSavedBy", mock.Anything, "file-1", "bob").Return(errors.New("db down")).Once()
		svc := services.NewFileService(new(MockBlobStore), records, access.OwnerIdentityPolicy{}, discardLogger())

		require.ErrorIs(t, svc.Save(context.Background(), "file-1", "bob"), services.ErrStorageUnavailable)
		records.AssertExpectations(t)
	})
}

func TestList(t *testing.T) {
	t.Run("Режим владельца: свои и сохраненные, новые первыми", func(t *testing.T) {
		env := newTestEnv(t, access.ModeOwner)
		ctx := context.Background()
		first := mustUpload(t, env, access.Credential{UserID: "alice"}, "first.pdf")
		second := mustUpload(t, env, access.Credential{UserID: "alice"}, "second.pdf")
		foreign := mustUpload(t, env, access.Credential{UserID: "bob"}, "bob.pdf")
		mustUpload(t, env, access.Credential{UserID: "bob"}, "private.pdf")
		require.NoError(t, env.files.Save(ctx, foreign.ID, "alice"))

		list, err := env.files.List(ctx, access.Credential{UserID: "alice"})
		require.NoError(t, err)
		ids := make([]string, 0, len(list))
		for _, r := range list {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{foreign.ID, second.ID, first.ID}, ids)
	})

	t.Run("Режим кода: только по коду", func(t *testing.T) {
		env := newTestEnv(t, access.ModeCode)
		rec := mustUpload(t, env, access.Credential{AccessCode: "one"}, "a.pdf")
		mustUpload(t, env, access.Credential{AccessCode: "two"}, "b.pdf")

		list, err := env.files.List(context.Background(), access.Credential{AccessCode: "one"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, rec.ID, list[0].ID)

		empty, err := env.files.List(context.Background(), access.Credential{AccessCode: "three"})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Нет владельца", func(t *testing.T) {
		env := newTestEnv(t, access.ModeOwner)
		_, err := env.files.List(context.Background(), access.Credential{})
		require.ErrorIs(t, err, services.ErrMissingOwner)
	})

	t.Run("Ошибка БД", func(t *testing.T) {
		records := new(MockFileRepository)
		records.On("ListByOwnerKey", mock.Anything, "alice", true).Return(nil, errors.New("db down")).Once()
		svc := services.NewFileService(new(MockBlobStore), records, access.OwnerIdentityPolicy{}, discardLogger())

		_, err := svc.List(context.Background(), access.Credential{UserID: "alice"})
		require.ErrorIs(t, err, services.ErrStorageUnavailable)
	})
}
