// errors.go: ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/tgproxy/internal/tgclient"
)

var (
	// ErrConfig: не заданы токен бота или чат. Совпадает с tgclient.ErrConfig.
	ErrConfig = tgclient.ErrConfig
	// ErrNotFound: идентификатор файла не удалось разрешить (ответ 404).
	ErrNotFound = errors.New("файл не найден")
	// ErrUpstream: ссылка получена, но скачать файл не удалось (ответ 500).
	ErrUpstream = errors.New("ошибка получения файла из Telegram")
	// ErrValidation: ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)

// FileError: локальный файл отсутствует, не читается, слишком большой
// или его тип не удалось определить. Локальный файл при этом не удаляется.
type FileError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("файл %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("файл %s: %s", e.Path, e.Reason)
}

func (e *FileError) Unwrap() error { return e.Err }
