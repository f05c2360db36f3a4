package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bigkaa/tgproxy/internal/service"
	"github.com/bigkaa/tgproxy/internal/tgclient/tgtest"
)

func TestValidateSettings(t *testing.T) {
	api := newTestAPI(t, testChat, 0)

	tests := []struct {
		name      string
		token     string
		chat      string
		wantValid bool
	}{
		{"верные настройки", testToken, testChat, true},
		{"неверный токен", "bad", testChat, false},
		{"неверный чат", testToken, "-999", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.postJSON(t, "/api/v1/settings/validate", map[string]string{
				"bot_token": tt.token,
				"chat_id":   tt.chat,
			})
			if rec.Code != http.StatusOK {
				t.Fatalf("статус = %d, ожидалось 200", rec.Code)
			}
			var resp service.ValidationResult
			decodeBody(t, rec, &resp)
			if resp.Valid != tt.wantValid {
				t.Errorf("valid = %v, ожидалось %v (errors: %+v)", resp.Valid, tt.wantValid, resp.Errors)
			}
		})
	}
}

func TestTestChat(t *testing.T) {
	api := newTestAPI(t, testChat, 0)

	rec := api.postJSON(t, "/api/v1/maintenance/test-chat", map[string]string{})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидалось 200, тело: %s", rec.Code, rec.Body.String())
	}
	if api.srv.Messages.Load() != 1 {
		t.Errorf("ожидалось 1 сообщение, получено %d", api.srv.Messages.Load())
	}
}

func TestTestChat_NotConfigured(t *testing.T) {
	api := newTestAPI(t, "", 0)

	rec := api.postJSON(t, "/api/v1/maintenance/test-chat", map[string]string{})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("статус = %d, ожидалось 503", rec.Code)
	}
	if code := errorCode(t, rec); code != "CONFIG_ERROR" {
		t.Errorf("code = %q", code)
	}
}

func TestTestFile(t *testing.T) {
	api := newTestAPI(t, testChat, 0)
	api.srv.AddFile("F9", &tgtest.File{Content: []byte("x")})

	rec := api.postJSON(t, "/api/v1/maintenance/test-file", map[string]string{"file_id": "F9"})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидалось 200, тело: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status     string `json:"status"`
		Attachment struct {
			RemoteFileID string `json:"remote_file_id"`
			ProxyURL     string `json:"proxy_url"`
		} `json:"attachment"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != service.TestFileCreated {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Attachment.RemoteFileID != "F9" || resp.Attachment.ProxyURL != testPublic+"/telegram-file/F9" {
		t.Errorf("attachment = %+v", resp.Attachment)
	}

	rec = api.postJSON(t, "/api/v1/maintenance/test-file", map[string]string{"file_id": "F9"})
	decodeBody(t, rec, &resp)
	if resp.Status != service.TestFileFound {
		t.Errorf("повторная проверка: status = %q, ожидалось found", resp.Status)
	}
}

func TestTestFile_Errors(t *testing.T) {
	api := newTestAPI(t, testChat, 0)

	rec := api.postJSON(t, "/api/v1/maintenance/test-file", map[string]string{"file_id": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("пустой file_id: статус = %d, ожидалось 400", rec.Code)
	}

	rec = api.postJSON(t, "/api/v1/maintenance/test-file", map[string]string{"file_id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("неизвестный file_id: статус = %d, ожидалось 404", rec.Code)
	}
}

func TestReconcile(t *testing.T) {
	api := newTestAPI(t, testChat, 0)
	api.reconciler.result = &service.ReconcileResult{Scanned: 3, Updated: 1}

	rec := api.postJSON(t, "/api/v1/maintenance/reconcile", map[string]string{})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидалось 200", rec.Code)
	}
	var resp service.ReconcileResult
	decodeBody(t, rec, &resp)
	if resp.Scanned != 3 || resp.Updated != 1 {
		t.Errorf("result = %+v", resp)
	}
}

func TestReconcile_InProgress(t *testing.T) {
	api := newTestAPI(t, testChat, 0)
	api.reconciler.result = nil
	api.reconciler.skipped = true

	rec := api.postJSON(t, "/api/v1/maintenance/reconcile", map[string]string{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("статус = %d, ожидалось 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "RECONCILE_IN_PROGRESS" {
		t.Errorf("code = %q", code)
	}
}

func TestReconcile_Error(t *testing.T) {
	api := newTestAPI(t, testChat, 0)
	api.reconciler.err = errors.New("storage down")

	rec := api.postJSON(t, "/api/v1/maintenance/reconcile", map[string]string{})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("статус = %d, ожидалось 500", rec.Code)
	}
}
