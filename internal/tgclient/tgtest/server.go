// Пакет tgtest: поддельный Telegram Bot API для тестов.
// Реализует sendMessage, sendDocument, getFile, getMe и раздачу файлов
// по /file/bot{token}/{file_path}.
package tgtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

// File: файл, хранящийся на поддельном сервере.
type File struct {
	Content  []byte
	MimeType string
	Filename string
	FilePath string
}

// Server: поддельный Bot API поверх httptest.Server.
type Server struct {
	*httptest.Server

	// Token: допустимый токен бота
	Token string
	// ChatID: допустимый чат (пусто: любой)
	ChatID string

	// FailUpload: sendDocument отвечает ok=false
	FailUpload atomic.Bool
	// FailGetFile: getFile отвечает ok=false (400)
	FailGetFile atomic.Bool
	// FailDownload: скачивание файла отвечает 500
	FailDownload atomic.Bool
	// ExpireDownloads: скачивание файла отвечает 404, как для протухшей ссылки
	ExpireDownloads atomic.Bool

	Messages  atomic.Int32
	Uploads   atomic.Int32
	GetFiles  atomic.Int32
	Downloads atomic.Int32

	mu         sync.Mutex
	files      map[string]*File
	seq        int
	nextFileID string
}

// NewServer запускает поддельный Bot API. Закрывается через t.Cleanup вызывающим.
func NewServer(token, chatID string) *Server {
	s := &Server{
		Token:  token,
		ChatID: chatID,
		files:  make(map[string]*File),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// APIURL возвращает базовый URL Bot API.
func (s *Server) APIURL() string { return s.URL }

// FileURL возвращает базовый URL скачивания.
func (s *Server) FileURL() string { return s.URL + "/file" }

// AddFile регистрирует файл, как будто он уже загружен в Telegram.
func (s *Server) AddFile(fileID string, f *File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.FilePath == "" {
		f.FilePath = "documents/" + fileID
	}
	s.files[fileID] = f
}

// SetNextFileID задаёт file_id для следующей загрузки (пусто: сгенерировать).
func (s *Server) SetNextFileID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFileID = id
}

// GetFile возвращает загруженный файл по file_id.
func (s *Server) GetFile(fileID string) (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	return f, ok
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/bot") {
		s.serveFile(w, r)
		return
	}

	// /bot{token}/{method}
	rest := strings.TrimPrefix(r.URL.Path, "/bot")
	token, method, ok := strings.Cut(rest, "/")
	if !ok || token != s.Token {
		writeAPIError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	switch method {
	case "getMe":
		writeResult(w, map[string]any{"id": 1, "is_bot": true, "username": "test_bot"})
	case "sendMessage":
		s.Messages.Add(1)
		if !s.chatAllowed(r.FormValue("chat_id")) {
			writeAPIError(w, http.StatusBadRequest, "Bad Request: chat not found")
			return
		}
		writeResult(w, map[string]any{"message_id": s.Messages.Load()})
	case "sendDocument":
		s.sendDocument(w, r)
	case "getFile":
		s.GetFiles.Add(1)
		if s.FailGetFile.Load() {
			writeAPIError(w, http.StatusBadRequest, "Bad Request: invalid file_id")
			return
		}
		f, ok := s.GetFile(r.FormValue("file_id"))
		if !ok {
			writeAPIError(w, http.StatusBadRequest, "Bad Request: invalid file_id")
			return
		}
		writeResult(w, map[string]any{"file_id": r.FormValue("file_id"), "file_path": f.FilePath})
	default:
		writeAPIError(w, http.StatusNotFound, "Not Found")
	}
}

func (s *Server) sendDocument(w http.ResponseWriter, r *http.Request) {
	s.Uploads.Add(1)
	if s.FailUpload.Load() {
		writeAPIError(w, http.StatusBadRequest, "Bad Request: upload rejected")
		return
	}
	if !s.chatAllowed(r.FormValue("chat_id")) {
		writeAPIError(w, http.StatusBadRequest, "Bad Request: chat not found")
		return
	}

	part, header, err := r.FormFile("document")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "Bad Request: there is no document in the request")
		return
	}
	defer part.Close()
	content, err := io.ReadAll(part)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "Bad Request: read failed")
		return
	}

	s.mu.Lock()
	fileID := s.nextFileID
	s.nextFileID = ""
	if fileID == "" {
		s.seq++
		fileID = fmt.Sprintf("FILE%03d", s.seq)
	}
	s.files[fileID] = &File{
		Content:  content,
		MimeType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
		FilePath: "documents/" + header.Filename,
	}
	s.mu.Unlock()

	writeResult(w, map[string]any{
		"message_id": 1,
		"document":   map[string]any{"file_id": fileID, "file_name": header.Filename},
	})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	s.Downloads.Add(1)
	if s.FailDownload.Load() {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if s.ExpireDownloads.Load() {
		http.NotFound(w, r)
		return
	}

	// /file/bot{token}/{file_path}
	rest := strings.TrimPrefix(r.URL.Path, "/file/bot")
	token, filePath, _ := strings.Cut(rest, "/")
	if token != s.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	var found *File
	for _, f := range s.files {
		if f.FilePath == filePath {
			found = f
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", found.MimeType)
	w.Header().Set("Content-Length", fmt.Sprint(len(found.Content)))
	_, _ = w.Write(found.Content)
}

func (s *Server) chatAllowed(chatID string) bool {
	return s.ChatID == "" || chatID == s.ChatID
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func writeAPIError(w http.ResponseWriter, status int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":          false,
		"error_code":  status,
		"description": description,
	})
}
