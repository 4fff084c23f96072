package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"user", RoleUser, false},
		{"assistant", RoleAssistant, false},
		{" System ", RoleSystem, false},
		{"ASSISTANT", RoleAssistant, false},
		{"tool", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownRole) {
				t.Errorf("ParseRole(%q) error = %v, want ErrUnknownRole", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRole(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCloneMessagesDoesNotAlias(t *testing.T) {
	orig := []Message{{ID: "1", Role: RoleAssistant, Content: "a"}}
	clone := CloneMessages(orig)
	clone[0].Content = "b"
	if orig[0].Content != "a" {
		t.Fatalf("clone aliased original: %q", orig[0].Content)
	}
	if CloneMessages(nil) != nil {
		t.Fatal("expected nil clone of nil slice")
	}
}

func TestTitleFromText(t *testing.T) {
	if got := TitleFromText("hello\nworld"); got != "hello" {
		t.Errorf("expected first line, got %q", got)
	}
	if got := TitleFromText(""); got != "New conversation" {
		t.Errorf("expected default title, got %q", got)
	}
	long := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz"
	if got := TitleFromText(long); len([]rune(got)) != maxTitleRunes+1 {
		t.Errorf("expected truncated title, got %q", got)
	}
}

func TestUserIdleFor(t *testing.T) {
	now := time.Now()
	u := &User{LastSeenAt: now.Add(-time.Minute)}
	if got := u.IdleFor(now); got != time.Minute {
		t.Errorf("IdleFor = %v, want 1m", got)
	}
	u.LastSeenAt = now.Add(time.Minute)
	if got := u.IdleFor(now); got != 0 {
		t.Errorf("IdleFor future = %v, want 0", got)
	}
}

func TestStatusBusy(t *testing.T) {
	if StatusIdle.Busy() || StatusConnected.Busy() {
		t.Error("idle/connected must not be busy")
	}
	if !StatusThinking.Busy() || !StatusStreaming.Busy() {
		t.Error("thinking/streaming must be busy")
	}
}
