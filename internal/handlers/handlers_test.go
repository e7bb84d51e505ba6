package handlers

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/gioleppe/Word-Quizzle/internal/presence"
	"github.com/gioleppe/Word-Quizzle/internal/store"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	s, err := store.NewFileUserStore(filepath.Join(t.TempDir(), "users.json"), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewFileUserStore: %v", err)
	}
	return New(s, presence.New())
}

func udpAddr(t *testing.T, s string) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	return addr
}

func register(t *testing.T, h *Handlers, nickname, password string) {
	t.Helper()
	if err := h.Register(context.Background(), nickname, password); err != nil {
		t.Fatalf("Register(%s): %v", nickname, err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	h := newTestHandlers(t)
	got := h.Login(context.Background(), "conn-1", "ghost", "pw", udpAddr(t, "127.0.0.1:1"))
	want := "Login error: user ghost not found. Please register."
	if got != want {
		t.Fatalf("Login = %q, want %q", got, want)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")

	got := h.Login(context.Background(), "conn-1", "alice", "wrong", udpAddr(t, "127.0.0.1:1"))
	if got != "Login error: wrong password." {
		t.Fatalf("Login = %q, want wrong-password error", got)
	}
}

func TestLoginSuccessBindsPresence(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")

	got := h.Login(context.Background(), "conn-1", "alice", "secret", udpAddr(t, "127.0.0.1:1"))
	if got != "Login successful." {
		t.Fatalf("Login = %q, want success", got)
	}
	if !h.Presence.IsOnline("alice") {
		t.Fatal("alice should be online after successful login")
	}
}

func TestLoginAlreadyOnline(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")
	h.Login(context.Background(), "conn-1", "alice", "secret", udpAddr(t, "127.0.0.1:1"))

	got := h.Login(context.Background(), "conn-2", "alice", "secret", udpAddr(t, "127.0.0.1:1"))
	if got != "Login error: alice is already logged in." {
		t.Fatalf("Login = %q, want already-logged-in error", got)
	}
}

func TestAddFriendSelfRejected(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")

	got := h.AddFriend(context.Background(), "alice", "alice")
	if got != "Add friend error: you cannot add yourself as a friend." {
		t.Fatalf("AddFriend(self) = %q", got)
	}
}

func TestAddFriendSymmetric(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")
	register(t, h, "bob", "secret")

	got := h.AddFriend(context.Background(), "alice", "bob")
	if got != "bob is now your friend." {
		t.Fatalf("AddFriend = %q", got)
	}

	if got := h.AddFriend(context.Background(), "alice", "bob"); got != "Add friend error: you and bob are already friends." {
		t.Fatalf("AddFriend (repeat) = %q", got)
	}

	if got := h.FriendList(context.Background(), "bob"); got != "Your friends are: alice " {
		t.Fatalf("bob's FriendList = %q, want symmetric friendship", got)
	}
}

func TestFriendListEmpty(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")

	if got := h.FriendList(context.Background(), "alice"); got != "You currently have no friends, add some!" {
		t.Fatalf("FriendList = %q", got)
	}
}

func TestScoreReportsCurrentValue(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")
	if err := h.AdjustScore(context.Background(), "alice", 7); err != nil {
		t.Fatalf("AdjustScore: %v", err)
	}

	if got := h.Score(context.Background(), "alice"); got != "alice, your score is: 7" {
		t.Fatalf("Score = %q", got)
	}
}

func TestScoreboardSortedDescending(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")
	register(t, h, "bob", "secret")
	register(t, h, "carol", "secret")
	h.AddFriend(context.Background(), "alice", "bob")
	h.AddFriend(context.Background(), "alice", "carol")

	h.AdjustScore(context.Background(), "alice", 5)
	h.AdjustScore(context.Background(), "bob", 10)
	h.AdjustScore(context.Background(), "carol", 1)

	got := h.Scoreboard(context.Background(), "alice")
	want := "bob 10 alice 5 carol 1"
	if got != want {
		t.Fatalf("Scoreboard = %q, want %q", got, want)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	h := newTestHandlers(t)
	register(t, h, "alice", "secret")
	if err := h.Register(context.Background(), "alice", "other"); err == nil {
		t.Fatal("Register(alice) a second time should fail")
	}
}
