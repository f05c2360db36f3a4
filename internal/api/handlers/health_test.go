package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStore struct {
	status, msg string
}

func (f fakeStore) CheckReady() (string, string) { return f.status, f.msg }

type fakeTelegram bool

func (f fakeTelegram) Configured() bool { return bool(f) }

type fakeDeps map[string]bool

func (f fakeDeps) Health() map[string]bool { return f }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, fakeTelegram(true), nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	var resp healthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != statusOK || resp.Service != serviceName {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		store      ReadinessChecker
		telegram   TelegramConfig
		deps       DependencyHealth
		wantCode   int
		wantStatus string
	}{
		{"память, всё настроено", nil, fakeTelegram(true), nil, http.StatusOK, statusOK},
		{"telegram не настроен", nil, fakeTelegram(false), nil, http.StatusOK, statusDegraded},
		{"зависимость недоступна", fakeStore{status: statusOK}, fakeTelegram(true),
			fakeDeps{"telegram-api:api.telegram.org:443": false}, http.StatusOK, statusDegraded},
		{"хранилище недоступно", fakeStore{status: statusFail, msg: "connection refused"}, fakeTelegram(true),
			fakeDeps{}, http.StatusServiceUnavailable, statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.store, tt.telegram, tt.deps)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидалось %d", rec.Code, tt.wantCode)
			}
			var resp healthResponse
			decodeBody(t, rec, &resp)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, ожидалось %q (checks: %+v)", resp.Status, tt.wantStatus, resp.Checks)
			}
		})
	}
}

func TestOverallStatus(t *testing.T) {
	if got := overallStatus(statusOK, statusDegraded, statusFail); got != statusFail {
		t.Errorf("overallStatus = %q", got)
	}
	if got := overallStatus(statusOK, statusDegraded); got != statusDegraded {
		t.Errorf("overallStatus = %q", got)
	}
	if got := overallStatus(); got != statusOK {
		t.Errorf("overallStatus() = %q", got)
	}
}
