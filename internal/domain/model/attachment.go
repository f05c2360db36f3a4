// Пакет model: доменные модели Telegram Proxy.
// Attachment: связь локального вложения хоста с файлом в Telegram.
package model

import (
	"crypto/md5" //nolint:gosec // md5: идентификатор, не криптография
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ProxyPathPrefix: префикс стабильного proxy-пути.
const ProxyPathPrefix = "/telegram-file/"

// Префиксы синтезированных (fallback) идентификаторов.
const (
	fallbackPrefix  = "fallback_"
	unmatchedPrefix = "unmatched_"
)

// Attachment: запись метаданных вложения.
// Ключ: LocalID; RemoteFileID определяет proxy-путь.
type Attachment struct {
	// LocalID: идентификатор вложения в приложении-хосте
	LocalID string `json:"local_id"`
	// RemoteFileID: file_id в Telegram или синтезированный fallback-идентификатор
	RemoteFileID string `json:"remote_file_id"`
	// RemoteURL: последняя известная ссылка на скачивание (истекает)
	RemoteURL string `json:"remote_url,omitempty"`
	// Width, Height: размеры изображения (nil: неизвестны)
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
	// MimeType: MIME-тип, определённый по содержимому
	MimeType string `json:"mime_type,omitempty"`
	// Filename: исходное имя файла
	Filename string `json:"filename,omitempty"`
	// Size: размер файла в байтах
	Size int64 `json:"size,omitempty"`
	// CreatedAt: время создания записи
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt: время последнего изменения
	UpdatedAt time.Time `json:"updated_at"`
}

// ProxyPath возвращает стабильный локальный путь файла.
// Пустая строка, если RemoteFileID ещё не назначен.
func (a *Attachment) ProxyPath() string {
	return ProxyPath(a.RemoteFileID)
}

// HasRemoteURL возвращает true, если известна ссылка на скачивание.
func (a *Attachment) HasRemoteURL() bool {
	return a.RemoteURL != ""
}

// IsFallback возвращает true, если RemoteFileID синтезирован локально.
func (a *Attachment) IsFallback() bool {
	return IsFallbackID(a.RemoteFileID)
}

// URLFragment возвращает фрагмент пути файла из RemoteURL.
func (a *Attachment) URLFragment() string {
	return URLFragment(a.RemoteURL)
}

// Clone возвращает глубокую копию записи.
func (a *Attachment) Clone() *Attachment {
	c := *a
	if a.Width != nil {
		w := *a.Width
		c.Width = &w
	}
	if a.Height != nil {
		h := *a.Height
		c.Height = &h
	}
	return &c
}

// ProxyPath строит proxy-путь из идентификатора файла.
func ProxyPath(remoteFileID string) string {
	if remoteFileID == "" {
		return ""
	}
	return ProxyPathPrefix + remoteFileID
}

// FallbackID синтезирует идентификатор для вложения с известным LocalID.
func FallbackID(localID string, now time.Time) string {
	return fmt.Sprintf("%s%s_%d", fallbackPrefix, localID, now.Unix())
}

// UnmatchedID синтезирует идентификатор для ссылки без известного вложения.
// Хеш ссылки делает идентификатор одинаковым для одной ссылки в пределах секунды.
func UnmatchedID(remoteURL string, now time.Time) string {
	sum := md5.Sum([]byte(remoteURL)) //nolint:gosec
	return fmt.Sprintf("%s%s_%d", unmatchedPrefix, hex.EncodeToString(sum[:]), now.Unix())
}

// IsFallbackID возвращает true для синтезированных идентификаторов.
func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, fallbackPrefix) || strings.HasPrefix(id, unmatchedPrefix)
}

// URLFragment извлекает из ссылки Telegram путь файла после сегмента bot{token}.
// Хост, токен и query в фрагмент не входят; путь остаётся в исходном
// percent-кодировании. Для прочих ссылок возвращает "".
func URLFragment(remoteURL string) string {
	if remoteURL == "" {
		return ""
	}
	u, err := url.Parse(remoteURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "bot") && len(seg) > len("bot") && i+1 < len(segments) {
			return strings.Join(segments[i+1:], "/")
		}
	}
	return ""
}
