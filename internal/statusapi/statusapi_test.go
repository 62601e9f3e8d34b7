package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wayrdp/wayrdp/internal/config"
	"github.com/wayrdp/wayrdp/internal/session"
)

func TestHandleStatus(t *testing.T) {
	manager := session.NewManager(config.Default())
	s := New("127.0.0.1:0", manager)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.NumSessions != 0 {
		t.Fatalf("sessions = %d, want 0", st.NumSessions)
	}
	if st.Time.IsZero() {
		t.Fatal("snapshot time missing")
	}
}

func TestHandleStatusRejectsPost(t *testing.T) {
	s := New("127.0.0.1:0", session.NewManager(config.Default()))
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
