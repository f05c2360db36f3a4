// Пакет tgclient: HTTP-клиент Telegram Bot API.
// Операции: Probe/SendTestMessage (sendMessage), Upload (sendDocument),
// Resolve (getFile), ValidateToken (getMe), Download (скачивание файла).
// Повторов нет: политику повторов выбирает вызывающий код.
package tgclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"
)

// Тексты служебных сообщений в чат.
const (
	ProbeText = "Pre-upload test from Telegram Proxy"
	TestText  = "Test message from Telegram Proxy"
)

// Config: параметры клиента.
type Config struct {
	// APIURL: базовый URL Bot API (https://api.telegram.org)
	APIURL string
	// FileURL: базовый URL скачивания (https://api.telegram.org/file)
	FileURL string
	// Token: токен бота
	Token string
	// ChatID: чат для хранения файлов
	ChatID string
	// Timeout: таймаут sendMessage, getFile, getMe
	Timeout time.Duration
	// UploadTimeout: таймаут sendDocument
	UploadTimeout time.Duration
}

// UploadInput: параметры загрузки файла.
// Вызывающий гарантирует, что файл существует и не превышает лимит Telegram.
type UploadInput struct {
	Path     string
	MimeType string
	Filename string
}

// BotInfo: ответ getMe.
type BotInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsBot    bool   `json:"is_bot"`
}

// apiResponse: общий конверт ответа Bot API.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Client: клиент Telegram Bot API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. Таймауты задаются через контекст каждого вызова,
// поэтому у http.Client собственного таймаута нет.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.FileURL = strings.TrimRight(cfg.FileURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 120 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.With(slog.String("component", "telegram_client")),
	}
}

// Configured возвращает true, если заданы токен и чат.
func (c *Client) Configured() bool {
	return c.cfg.Token != "" && c.cfg.ChatID != ""
}

// APIURL возвращает базовый URL Bot API.
func (c *Client) APIURL() string {
	return c.cfg.APIURL
}

// FileURL возвращает базовый URL скачивания файлов.
func (c *Client) FileURL() string {
	return c.cfg.FileURL
}

// Probe отправляет служебное сообщение в настроенный чат.
// Используется перед загрузкой, чтобы не загружать файл в недоступный чат.
func (c *Client) Probe(ctx context.Context) error {
	if !c.Configured() {
		return ErrConfig
	}
	return c.SendMessage(ctx, c.cfg.Token, c.cfg.ChatID, ProbeText)
}

// SendTestMessage отправляет тестовое сообщение в настроенный чат.
func (c *Client) SendTestMessage(ctx context.Context) error {
	if !c.Configured() {
		return ErrConfig
	}
	return c.SendMessage(ctx, c.cfg.Token, c.cfg.ChatID, TestText)
}

// SendMessage отправляет текст в чат с явными токеном и чатом.
// Если Telegram ответил "chat not found", к ошибке добавляется подсказка.
func (c *Client) SendMessage(ctx context.Context, token, chatID, text string) error {
	if token == "" || chatID == "" {
		return ErrConfig
	}

	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)

	_, err := c.callForm(ctx, token, "sendMessage", form, c.cfg.Timeout)
	if err != nil {
		var apiErr *RemoteAPIError
		if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Description), "chat not found") {
			apiErr.Hint = chatNotFoundHint
		}
		return err
	}
	return nil
}

// ValidateToken проверяет токен через getMe.
func (c *Client) ValidateToken(ctx context.Context, token string) (*BotInfo, error) {
	if token == "" {
		return nil, ErrConfig
	}

	result, err := c.callForm(ctx, token, "getMe", url.Values{}, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	var info BotInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, &RemoteAPIError{Method: "getMe", Description: "некорректный ответ: " + err.Error()}
	}
	return &info, nil
}

// Upload загружает файл в чат через sendDocument и возвращает file_id.
// Тело multipart передаётся потоком с диска, размер повторно не проверяется.
func (c *Client) Upload(ctx context.Context, in UploadInput) (string, error) {
	if !c.Configured() {
		return "", ErrConfig
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeDocument(mw, c.cfg.ChatID, in))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(c.cfg.Token, "sendDocument"), pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("создание запроса sendDocument: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	result, err := c.do(req, "sendDocument")
	if err != nil {
		return "", err
	}

	var msg struct {
		Document struct {
			FileID string `json:"file_id"`
		} `json:"document"`
	}
	if err := json.Unmarshal(result, &msg); err != nil || msg.Document.FileID == "" {
		return "", &RemoteAPIError{Method: "sendDocument", Description: "в ответе отсутствует document.file_id"}
	}

	c.logger.Debug("Файл загружен в Telegram",
		slog.String("filename", in.Filename),
		slog.String("file_id", msg.Document.FileID),
	)
	return msg.Document.FileID, nil
}

// writeDocument формирует multipart-тело sendDocument.
func writeDocument(mw *multipart.Writer, chatID string, in UploadInput) error {
	f, err := os.Open(in.Path)
	if err != nil {
		return fmt.Errorf("открытие файла %s: %w", in.Path, err)
	}
	defer f.Close()

	if err := mw.WriteField("chat_id", chatID); err != nil {
		return err
	}

	filename := in.Filename
	if filename == "" {
		filename = "file"
	}
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="document"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", mimeType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("чтение файла %s: %w", in.Path, err)
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Resolve получает временную ссылку на скачивание файла через getFile.
// Отказ Telegram с кодом 400/404 оборачивает ErrNotFound.
func (c *Client) Resolve(ctx context.Context, fileID string) (string, error) {
	if c.cfg.Token == "" {
		return "", ErrConfig
	}

	form := url.Values{}
	form.Set("file_id", fileID)

	result, err := c.callForm(ctx, c.cfg.Token, "getFile", form, c.cfg.Timeout)
	if err != nil {
		var apiErr *RemoteAPIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusNotFound) {
			return "", fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return "", err
	}

	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(result, &file); err != nil || file.FilePath == "" {
		return "", &RemoteAPIError{Method: "getFile", Description: "в ответе отсутствует file_path"}
	}

	return c.FileDownloadURL(file.FilePath), nil
}

// FileDownloadURL строит ссылку на скачивание по file_path.
func (c *Client) FileDownloadURL(filePath string) string {
	return c.cfg.FileURL + "/bot" + c.cfg.Token + "/" + strings.TrimLeft(filePath, "/")
}

// Download выполняет streaming GET по ссылке на файл.
// Вызывающий обязан закрыть resp.Body. Статус ответа не проверяется.
func (c *Client) Download(ctx context.Context, fileURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса скачивания: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: "download", Err: err}
	}
	return resp, nil
}

// callForm выполняет POST с form-urlencoded телом.
func (c *Client) callForm(
	ctx context.Context, token, method string, form url.Values, timeout time.Duration,
) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(token, method),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, method)
}

// do отправляет запрос и разбирает конверт ответа.
func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &RemoteAPIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Description: fmt.Sprintf("некорректный ответ (HTTP %d)", resp.StatusCode),
		}
	}

	if !envelope.OK {
		desc := envelope.Description
		if desc == "" {
			desc = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		status := resp.StatusCode
		if envelope.ErrorCode != 0 {
			status = envelope.ErrorCode
		}
		return nil, &RemoteAPIError{Method: method, StatusCode: status, Description: desc}
	}

	return envelope.Result, nil
}

// methodURL строит URL метода Bot API: {api}/bot{token}/{method}.
func (c *Client) methodURL(token, method string) string {
	return c.cfg.APIURL + "/bot" + token + "/" + method
}
