package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maynagashev/filelocker/internal/apierrors"
)

// Тип для ключа контекста.
type contextKey string

// SubjectKey - ключ для хранения subject токена в контексте.
const SubjectKey contextKey = "subject"

// Параметры служебного токена.
const (
	AdminSubject = "admin"
	tokenIssuer  = "filelocker"
)

// IssueToken выпускает служебный JWT (HS256) для маршрутов обслуживания.
func IssueToken(secret []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("секрет для подписи токена не задан")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   AdminSubject,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}
	return signed, nil
}

// Authenticator проверяет служебный JWT в заголовке Authorization.
// При пустом секрете отклоняет все запросы.
func Authenticator(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				logger.Warn("Маршрут обслуживания вызван без настроенного секрета")
				apierrors.Unauthorized(w, "Маршруты обслуживания отключены")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}

			// Проверяем формат "Bearer token"
			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") ||
				tokenString == "" || strings.Contains(tokenString, " ") {
				logger.Warn("Неверный формат заголовка Authorization")
				apierrors.Unauthorized(w, "Неверный формат токена")
				return
			}

			claims := &jwt.RegisteredClaims{}
			_, err := jwt.ParseWithClaims(tokenString, claims,
				func(_ *jwt.Token) (interface{}, error) { return secret, nil },
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
				jwt.WithIssuer(tokenIssuer),
				jwt.WithSubject(AdminSubject),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				logger.Warn("Невалидный токен", slog.String("error", err.Error()))
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubjectFromContext извлекает subject токена из контекста запроса.
func GetSubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
