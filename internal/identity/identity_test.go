package identity

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ashureev/nexus-chat/internal/store"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "id.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddleware(t *testing.T) {
	repo := newTestRepo(t)
	tokens := StaticTokens{"good": "alice"}

	var gotUser, gotSession string
	h := Middleware(repo, tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name        string
		target      string
		auth        string
		wantStatus  int
		wantUser    string
		wantSession string
	}{
		{"bearer header", "/api/v1/sessions", "Bearer good", http.StatusNoContent, "alice", ""},
		{"query token", "/ws?token=good&session_id=s-1", "", http.StatusNoContent, "alice", "s-1"},
		{"invalid session id", "/ws?token=good&session_id=bad%20id", "", http.StatusNoContent, "alice", ""},
		{"unknown token", "/api/v1/sessions", "Bearer nope", http.StatusUnauthorized, "", ""},
		{"wrong scheme", "/api/v1/sessions", "Basic good", http.StatusUnauthorized, "", ""},
		{"missing", "/api/v1/sessions", "", http.StatusUnauthorized, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser, gotSession = "", ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotUser != tt.wantUser {
				t.Errorf("user = %q, want %q", gotUser, tt.wantUser)
			}
			if gotSession != tt.wantSession {
				t.Errorf("session = %q, want %q", gotSession, tt.wantSession)
			}
		})
	}

	user, err := repo.GetUser(t.Context(), "alice")
	if err != nil || user == nil {
		t.Fatalf("user not created: %v, %v", user, err)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	cases := map[string]string{
		"  abc-123 ":     "abc-123",
		"a/b":            "",
		"":               "",
		"uuid:4f1c.09_x": "uuid:4f1c.09_x",
	}
	for in, want := range cases {
		if got := SanitizeSessionID(in); got != want {
			t.Errorf("SanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}
