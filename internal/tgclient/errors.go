package tgclient

import (
	"errors"
	"fmt"
)

// Ошибки клиента Telegram.
var (
	// ErrConfig: не заданы токен бота или идентификатор чата.
	ErrConfig = errors.New("не заданы токен бота или идентификатор чата")
	// ErrNotFound: Telegram не знает указанный file_id.
	ErrNotFound = errors.New("файл не найден в Telegram")
)

// chatNotFoundHint: подсказка, когда бот ещё не получал сообщений из чата.
const chatNotFoundHint = " Please start a chat with the bot by sending a message to it (e.g., /start)."

// TransportError: сетевая ошибка или ошибка TLS при вызове Bot API.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ошибка соединения с Telegram (%s): %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteAPIError: Telegram явно отклонил запрос (ok=false).
// Description передаётся оператору без изменений, Hint дополняет его.
type RemoteAPIError struct {
	Method      string
	StatusCode  int
	Description string
	Hint        string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("Telegram API %s: %s%s", e.Method, e.Description, e.Hint)
}

// Message возвращает текст для оператора: описание Telegram и подсказку.
func (e *RemoteAPIError) Message() string {
	return e.Description + e.Hint
}
