package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/nexus-chat/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetUser(ctx, "alice")
	if err != nil || got != nil {
		t.Fatalf("GetUser(missing) = %v, %v", got, err)
	}

	now := time.Now()
	if err := repo.UpsertUser(ctx, &domain.User{UserID: "alice", Username: "Alice", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertUser() error: %v", err)
	}
	got, err = repo.GetUser(ctx, "alice")
	if err != nil || got == nil {
		t.Fatalf("GetUser() = %v, %v", got, err)
	}
	if got.Username != "Alice" {
		t.Errorf("Username = %q", got.Username)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateLastSeen(ctx, "alice", later); err != nil {
		t.Fatalf("UpdateLastSeen() error: %v", err)
	}
	got, _ = repo.GetUser(ctx, "alice")
	if got.LastSeenAt.Unix() != later.Unix() {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
}

func TestAppendMessageCreatesAndTitlesSession(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	sessions, err := repo.ListSessions(ctx, "alice")
	if err != nil || len(sessions) != 0 {
		t.Fatalf("ListSessions(empty) = %v, %v", sessions, err)
	}

	msgs := []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Content: "What moved the markets today?\nmore detail", CreatedAt: base},
		{ID: "m2", Role: domain.RoleAssistant, Content: "Rates.", CreatedAt: base.Add(time.Second)},
		{ID: "m3", Role: domain.RoleUser, Content: "And oil?", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, m := range msgs {
		if err := repo.AppendMessage(ctx, "alice", "s1", m); err != nil {
			t.Fatalf("AppendMessage(%s) error: %v", m.ID, err)
		}
	}

	sess, err := repo.GetSession(ctx, "alice", "s1")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if sess.Title != "What moved the markets today?" {
		t.Errorf("Title = %q", sess.Title)
	}
	if sess.UpdatedAt.UnixMilli() != base.Add(2*time.Second).UnixMilli() {
		t.Errorf("UpdatedAt not bumped: %v", sess.UpdatedAt)
	}

	got, err := repo.GetMessages(ctx, "alice", "s1")
	if err != nil {
		t.Fatalf("GetMessages() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.ID != msgs[i].ID || m.Role != msgs[i].Role || m.Content != msgs[i].Content {
			t.Errorf("message %d = %+v, want %+v", i, m, msgs[i])
		}
	}
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"old", "mid", "new"} {
		msg := domain.Message{ID: id + "-m", Role: domain.RoleUser, Content: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.AppendMessage(ctx, "alice", id, msg); err != nil {
			t.Fatalf("AppendMessage() error: %v", err)
		}
	}
	// Touch "old" so it moves to the front.
	touch := domain.Message{ID: "old-m2", Role: domain.RoleAssistant, Content: "x", CreatedAt: base.Add(10 * time.Second)}
	if err := repo.AppendMessage(ctx, "alice", "old", touch); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	sessions, err := repo.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	var ids []string
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "old,new,mid" {
		t.Errorf("order = %v", ids)
	}

	other, err := repo.ListSessions(ctx, "bob")
	if err != nil || len(other) != 0 {
		t.Errorf("bob sees %v, %v", other, err)
	}
}

func TestSessionsAreScopedToOwner(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.AppendMessage(ctx, "alice", "s1", domain.Message{ID: "m1", Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	if _, err := repo.GetMessages(ctx, "bob", "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMessages(bob) error = %v, want ErrNotFound", err)
	}
	err := repo.AppendMessage(ctx, "bob", "s1", domain.Message{ID: "m2", Role: domain.RoleUser, Content: "intrude"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendMessage(bob) error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetSession(ctx, "alice", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) error = %v", err)
	}
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	repo := newTestStore(t)
	err := repo.AppendMessage(context.Background(), "alice", "s1", domain.Message{ID: "m", Role: "tool", Content: "x"})
	if !errors.Is(err, domain.ErrUnknownRole) {
		t.Errorf("error = %v, want ErrUnknownRole", err)
	}
}

func TestModelConfigCRUD(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	cfg := domain.ModelConfig{UserID: "alice", AgentType: "researcher", Provider: "openai", ModelName: "gpt-4o"}
	if err := repo.UpsertModelConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertModelConfig() error: %v", err)
	}
	cfg.ModelName = "gpt-4o-mini"
	if err := repo.UpsertModelConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertModelConfig() error: %v", err)
	}

	cfgs, err := repo.ListModelConfigs(ctx, "alice")
	if err != nil {
		t.Fatalf("ListModelConfigs() error: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].ModelName != "gpt-4o-mini" {
		t.Fatalf("configs = %+v", cfgs)
	}

	if err := repo.DeleteModelConfig(ctx, "alice", "researcher"); err != nil {
		t.Fatalf("DeleteModelConfig() error: %v", err)
	}
	if err := repo.DeleteModelConfig(ctx, "alice", "researcher"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestPing(t *testing.T) {
	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
