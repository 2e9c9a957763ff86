// Package access содержит правила доступа к файлам для двух режимов развертывания:
// по идентификатору владельца и по коду доступа.
package access

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/maynagashev/filelocker/internal/models"
)

// Mode - режим идентификации владельца файла.
type Mode string

// Поддерживаемые режимы.
const (
	ModeOwner Mode = "owner"
	ModeCode  Mode = "code"
)

// ErrMissingOwner возвращается, если в запросе нет данных владельца для текущего режима.
var ErrMissingOwner = errors.New("не указан владелец файла")

// Credential - то, что клиент предъявил в запросе. Значения не проверяются.
type Credential struct {
	UserID     string
	AccessCode string
}

// Policy определяет, кто может читать и удалять файл.
type Policy interface {
	Mode() Mode
	// OwnerKey вычисляет ключ владельца, под которым хранится запись.
	OwnerKey(cred Credential) (string, error)
	CanRead(rec *models.FileRecord, cred Credential) bool
	CanDelete(rec *models.FileRecord, cred Credential) bool
	// IncludeSaved сообщает, включать ли в список файлы, сохраненные пользователем.
	IncludeSaved() bool
}

// NewPolicy возвращает политику для режима.
func NewPolicy(mode Mode) (Policy, error) {
	switch mode {
	case ModeOwner:
		return OwnerIdentityPolicy{}, nil
	case ModeCode:
		return AccessCodePolicy{}, nil
	default:
		return nil, fmt.Errorf("неизвестный режим доступа %q (ожидается owner или code)", mode)
	}
}

// OwnerIdentityPolicy - доступ по идентификатору пользователя.
// Читать могут владелец и пользователи, сохранившие файл; удалять только владелец.
type OwnerIdentityPolicy struct{}

var _ Policy = OwnerIdentityPolicy{}

// Mode возвращает ModeOwner.
func (OwnerIdentityPolicy) Mode() Mode { return ModeOwner }

// OwnerKey возвращает идентификатор пользователя как есть.
func (OwnerIdentityPolicy) OwnerKey(cred Credential) (string, error) {
	userID := strings.TrimSpace(cred.UserID)
	if userID == "" {
		return "", ErrMissingOwner
	}
	return userID, nil
}

// CanRead разрешает чтение владельцу и сохранившим файл.
func (p OwnerIdentityPolicy) CanRead(rec *models.FileRecord, cred Credential) bool {
	key, err := p.OwnerKey(cred)
	if err != nil {
		return false
	}
	return rec.OwnerKey == key || rec.IsSavedBy(key)
}

// CanDelete разрешает удаление только владельцу.
func (p OwnerIdentityPolicy) CanDelete(rec *models.FileRecord, cred Credential) bool {
	key, err := p.OwnerKey(cred)
	if err != nil {
		return false
	}
	return rec.OwnerKey == key
}

// IncludeSaved - в режиме владельца список содержит и сохраненные файлы.
func (OwnerIdentityPolicy) IncludeSaved() bool { return true }

// AccessCodePolicy - доступ по коду. В базе хранится только SHA-256 кода.
type AccessCodePolicy struct{}

var _ Policy = AccessCodePolicy{}

// Mode возвращает ModeCode.
func (AccessCodePolicy) Mode() Mode { return ModeCode }

// OwnerKey возвращает хеш кода доступа.
func (AccessCodePolicy) OwnerKey(cred Credential) (string, error) {
	if cred.AccessCode == "" {
		return "", ErrMissingOwner
	}
	return HashAccessCode(cred.AccessCode), nil
}

// CanRead сравнивает хеш предъявленного кода с ключом записи.
func (p AccessCodePolicy) CanRead(rec *models.FileRecord, cred Credential) bool {
	key, err := p.OwnerKey(cred)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(rec.OwnerKey), []byte(key)) == 1
}

// CanDelete совпадает с CanRead: код дает полный доступ.
func (p AccessCodePolicy) CanDelete(rec *models.FileRecord, cred Credential) bool {
	return p.CanRead(rec, cred)
}

// IncludeSaved - сохранение файлов в режиме кода не поддерживается.
func (AccessCodePolicy) IncludeSaved() bool { return false }

// HashAccessCode возвращает SHA-256 кода в hex (64 символа в нижнем регистре).
func HashAccessCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
