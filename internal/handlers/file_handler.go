package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/filelocker/internal/access"
	"github.com/maynagashev/filelocker/internal/apierrors"
	"github.com/maynagashev/filelocker/internal/models"
	"github.com/maynagashev/filelocker/internal/services"
)

const (
	formFieldFile       = "file"
	formFieldUserID     = "userId"
	formFieldAccessCode = "accessCode"

	// Запас на границы и поля multipart сверх лимита файла.
	multipartOverhead = 1 << 20
	// Части формы больше этого размера уходят во временные файлы.
	multipartMemory = 1 << 20
	// Ограничение тела JSON-запросов.
	maxJSONBody = 64 << 10
)

// FileHandler обрабатывает HTTP-запросы, связанные с файлами.
type FileHandler struct {
	upload services.UploadService
	files  services.FileService
	logger *slog.Logger
}

// NewFileHandler создает новый экземпляр FileHandler.
func NewFileHandler(upload services.UploadService, files services.FileService, logger *slog.Logger) *FileHandler {
	return &FileHandler{
		upload: upload,
		files:  files,
		logger: logger.With(slog.String("component", "file_handler")),
	}
}

// credentialRequest - учетные данные в теле JSON.
type credentialRequest struct {
	UserID     string `json:"userId"`
	AccessCode string `json:"accessCode"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Upload обрабатывает POST /api/files/upload (multipart: file + userId или accessCode).
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	maxSize := h.upload.MaxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeFileTooLarge,
				fmt.Sprintf("Размер файла превышает %s", humanize.IBytes(uint64(maxSize))))
			return
		}
		h.logger.Warn("Некорректная multipart форма", slog.String("error", err.Error()))
		apierrors.ValidationError(w, "Ожидается multipart/form-data с полем file")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Не удалось удалить временные файлы формы", slog.String("error", err.Error()))
		}
	}()

	file, header, err := r.FormFile(formFieldFile)
	if err != nil {
		apierrors.ValidationError(w, "Файл не передан")
		return
	}
	defer file.Close()

	rec, err := h.upload.Upload(r.Context(), services.UploadRequest{
		Content:     file,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Credential: access.Credential{
			UserID:     r.FormValue(formFieldUserID),
			AccessCode: r.FormValue(formFieldAccessCode),
		},
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, rec.Summary())
}

// Download обрабатывает GET /api/files/{fileId}?userId=...|accessCode=...
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	d, err := h.files.Download(r.Context(), fileID, queryCredential(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer d.Content.Close()

	contentType := d.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition(d.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err = io.Copy(w, d.Content); err != nil {
		// Заголовки уже отправлены, остается только залогировать
		h.logger.Warn("Передача файла прервана",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// Delete обрабатывает DELETE /api/files/{fileId}. Учетные данные в JSON-теле или в query.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	cred := queryCredential(r)
	if r.ContentLength != 0 && r.Body != nil {
		var body credentialRequest
		if err := decodeJSON(w, r, &body); err != nil {
			apierrors.ValidationError(w, "Некорректное тело запроса")
			return
		}
		if body.UserID != "" {
			cred.UserID = body.UserID
		}
		if body.AccessCode != "" {
			cred.AccessCode = body.AccessCode
		}
	}

	if err := h.files.Delete(r.Context(), fileID, cred); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Message: "Файл удален"})
}

// ListByUser обрабатывает GET /api/files/user/{userId}.
func (h *FileHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, access.Credential{UserID: chi.URLParam(r, "userId")})
}

// ListByAccessCode обрабатывает GET /api/files/access/{code}.
func (h *FileHandler) ListByAccessCode(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, access.Credential{AccessCode: chi.URLParam(r, "code")})
}

func (h *FileHandler) list(w http.ResponseWriter, r *http.Request, cred access.Credential) {
	records, err := h.files.List(r.Context(), cred)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	summaries := make([]models.FileSummary, 0, len(records))
	for i := range records {
		summaries = append(summaries, records[i].Summary())
	}
	writeJSON(w, h.logger, http.StatusOK, summaries)
}

// Save обрабатывает POST /api/save/{fileId} с телом {"userId": "..."}.
func (h *FileHandler) Save(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	var body credentialRequest
	if err := decodeJSON(w, r, &body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	if err := h.files.Save(r.Context(), fileID, body.UserID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, messageResponse{Message: "Файл сохранен"})
}

func queryCredential(r *http.Request) access.Credential {
	q := r.URL.Query()
	return access.Credential{
		UserID:     q.Get(formFieldUserID),
		AccessCode: q.Get(formFieldAccessCode),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return fmt.Errorf("неподдерживаемый Content-Type %q", ct)
		}
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("ошибка декодирования JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Ошибка кодирования ответа", slog.String("error", err.Error()))
	}
}

// contentDisposition формирует заголовок attachment с экранированным именем.
// Для не-ASCII имен добавляется filename* (RFC 5987).
func contentDisposition(name string) string {
	var fallback, clean strings.Builder
	nonASCII := false
	for _, r := range name {
		if r < 0x20 || r == 0x7f || r == utf8.RuneError {
			continue
		}
		clean.WriteRune(r)
		switch {
		case r > 0x7e:
			nonASCII = true
			fallback.WriteByte('_')
		case r == '"' || r == '\\':
			fallback.WriteByte('\\')
			fallback.WriteRune(r)
		default:
			fallback.WriteRune(r)
		}
	}
	if fallback.Len() == 0 {
		fallback.WriteString("file")
	}

	value := `attachment; filename="` + fallback.String() + `"`
	if nonASCII {
		value += "; filename*=UTF-8''" + encodeExtValue(clean.String())
	}
	return value
}

// encodeExtValue кодирует значение для filename*: все байты вне attr-char (RFC 5987) в виде %XX.
func encodeExtValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
