package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestWriteJSONSetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]string{"a": "b"})
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["a"] != "b" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestWriteErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusConflict, errTest("locked"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "locked" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestNotFoundWrites404(t *testing.T) {
	rec := httptest.NewRecorder()
	notFound(rec)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

type fakeAuditCursor struct {
	mu    sync.Mutex
	byKey map[string]uint64
	calls int
}

func (f *fakeAuditCursor) IncrementCounter(_ context.Context, key string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byKey == nil {
		f.byKey = map[string]uint64{}
	}
	f.calls++
	f.byKey[key]++
	return f.byKey[key], nil
}

func TestLogAuditIncrementsCursorOncePerCall(t *testing.T) {
	audit := &fakeAuditCursor{}
	s := &Server{log: zap.NewNop(), audit: audit}
	s.logAudit(context.Background(), "pause")
	s.logAudit(context.Background(), "resume")
	if audit.calls != 2 {
		t.Fatalf("expected 2 cursor increments, got %d", audit.calls)
	}
	if audit.byKey[auditCursorKey] != 2 {
		t.Fatalf("expected cursor value 2, got %d", audit.byKey[auditCursorKey])
	}
}

func TestLogAuditNoopWithoutAuditCursor(t *testing.T) {
	s := &Server{log: zap.NewNop()}
	// Must not panic when no audit cursor is configured.
	s.logAudit(context.Background(), "pause")
}
