package services

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

// DefaultAllowedTypes - типы, разрешенные по умолчанию.
const DefaultAllowedTypes = "image/*,application/pdf"

const presetDocuments = "documents"

var documentTypes = []string{
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
}

// TypeAllowList - список разрешенных MIME-типов. Поддерживает шаблоны вида "image/*".
type TypeAllowList struct {
	exact    map[string]struct{}
	prefixes []string
	raw      []string
}

// ParseAllowedTypes разбирает список через запятую.
// Слово "documents" добавляет к набору по умолчанию Word и text/plain.
func ParseAllowedTypes(s string) (*TypeAllowList, error) {
	list := &TypeAllowList{exact: map[string]struct{}{}}
	for _, token := range strings.Split(s, ",") {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		if token == presetDocuments {
			for _, t := range append(strings.Split(DefaultAllowedTypes, ","), documentTypes...) {
				list.add(t)
			}
			continue
		}
		major, minor, ok := strings.Cut(token, "/")
		if !ok || major == "" || minor == "" || strings.Contains(major, "*") ||
			(strings.Contains(minor, "*") && minor != "*") {
			return nil, fmt.Errorf("некорректный MIME-тип %q", token)
		}
		list.add(token)
	}
	if len(list.raw) == 0 {
		return nil, errors.New("список разрешенных типов пуст")
	}
	return list, nil
}

func (l *TypeAllowList) add(t string) {
	if prefix, ok := strings.CutSuffix(t, "/*"); ok {
		l.prefixes = append(l.prefixes, prefix+"/")
	} else {
		l.exact[t] = struct{}{}
	}
	l.raw = append(l.raw, t)
}

// Allows проверяет нормализованный тип.
func (l *TypeAllowList) Allows(contentType string) bool {
	if contentType == "" {
		return false
	}
	if _, ok := l.exact[contentType]; ok {
		return true
	}
	for _, p := range l.prefixes {
		if strings.HasPrefix(contentType, p) {
			return true
		}
	}
	return false
}

// String возвращает список в нормализованной форме.
func (l *TypeAllowList) String() string {
	return strings.Join(l.raw, ",")
}

// normalizeContentType отбрасывает параметры и приводит тип к нижнему регистру.
func normalizeContentType(ct string) string {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType, _, _ = strings.Cut(ct, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
