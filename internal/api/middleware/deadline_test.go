package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// slowUpload отправляет тело двумя частями с паузой между ними и
// возвращает статус и тело ответа (или ошибку транспорта).
func slowUpload(t *testing.T, url string, pause time.Duration) (int, string, error) {
	t.Helper()
	pr, pw := io.Pipe()
	go func() {
		if _, err := io.WriteString(pw, "first-"); err != nil {
			return
		}
		time.Sleep(pause)
		if _, err := io.WriteString(pw, "second"); err != nil {
			return
		}
		_ = pw.Close()
	}()
	t.Cleanup(func() { _ = pw.Close() })

	resp, err := http.Post(url, "application/octet-stream", pr)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), nil
}

// readAllHandler читает тело целиком и отвечает его длиной.
var readAllHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusRequestTimeout)
		return
	}
	_, _ = io.WriteString(w, strconv.Itoa(len(body)))
})

func TestTransferDeadline_OutlivesServerReadTimeout(t *testing.T) {
	// Обёртка логирования стоит снаружи: ResponseController идёт через Unwrap
	handler := RequestLogger(testLogger())(TransferDeadline(5*time.Second, testLogger())(readAllHandler))
	srv := httptest.NewUnstartedServer(handler)
	srv.Config.ReadTimeout = 100 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	status, body, err := slowUpload(t, srv.URL, 400*time.Millisecond)
	if err != nil {
		t.Fatalf("загрузка прервана: %v", err)
	}
	if status != http.StatusOK || body != "12" {
		t.Errorf("ответ = %d %q, ожидалось 200 \"12\"", status, body)
	}
}

func TestTransferDeadline_ServerReadTimeoutWithoutMiddleware(t *testing.T) {
	srv := httptest.NewUnstartedServer(readAllHandler)
	srv.Config.ReadTimeout = 100 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	status, _, err := slowUpload(t, srv.URL, 400*time.Millisecond)
	if err == nil && status == http.StatusOK {
		t.Error("без TransferDeadline медленное тело должно упираться в ReadTimeout")
	}
}

func TestTransferDeadline_RecorderWithoutDeadlines(t *testing.T) {
	called := false
	handler := TransferDeadline(time.Minute, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telegram-file/X", nil))

	if !called || rec.Code != http.StatusNoContent {
		t.Errorf("обработчик должен вызываться и без поддержки дедлайнов: called=%v code=%d", called, rec.Code)
	}
}
