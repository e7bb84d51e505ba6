// Package handlers implements the stateless per-command request logic
// named in the system design (§4.6): login, logout, add_friend,
// friend_list, score, scoreboard. Each handler is a pure function of the
// stores it is given plus the caller's connection identity, grounded on
// the original's per-command Task classes
// (LoginTask/LogoutTask/AddFriendTask/GetFriendListTask/GetScoreTask/GetScoreboardTask.java)
// translated from one-shot Runnables into closures the WorkerPool runs.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/gioleppe/Word-Quizzle/internal/domain/user"
	"github.com/gioleppe/Word-Quizzle/internal/presence"
	"github.com/gioleppe/Word-Quizzle/internal/store"
	"github.com/gioleppe/Word-Quizzle/internal/wqerrors"
)

// Handlers bundles the stores every request handler needs.
type Handlers struct {
	Users    store.UserStore
	Presence *presence.Registry
}

// New builds a Handlers bundle.
func New(users store.UserStore, presence *presence.Registry) *Handlers {
	return &Handlers{Users: users, Presence: presence}
}

// Login verifies credentials and binds presence. connID is the session
// socket's identity (the session server passes the connection's file
// descriptor);
// endpoint is the datagram address the client supplied for match
// invitations.
func (h *Handlers) Login(ctx context.Context, connID, nickname, password string, endpoint net.Addr) string {
	rec, err := h.Users.Get(ctx, nickname)
	if err != nil {
		return fmt.Sprintf("Login error: user %s not found. Please register.", nickname)
	}

	if h.Presence.IsOnline(nickname) {
		return fmt.Sprintf("Login error: %s is already logged in.", nickname)
	}
	if existing, ok := h.Presence.NicknameOf(connID); ok && existing != "" {
		return "Login error: you are already logged with another account."
	}

	if err := bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)); err != nil {
		return "Login error: wrong password."
	}

	if bindErr := h.Presence.Bind(connID, nickname, endpoint); bindErr != nil {
		return fmt.Sprintf("Login error: %s", bindErr)
	}
	return "Login successful."
}

// Logout removes presence for connID. brutal is true when the reactor
// observed EOF rather than a client-issued logout request; in that case
// there is no reply to produce, matching "Brutal logout MUST be safe when
// the connection was never logged in."
func (h *Handlers) Logout(connID string, brutal bool) string {
	h.Presence.Unbind(connID)
	if brutal {
		return ""
	}
	return "Logout successful"
}

// AddFriend inserts a symmetric friendship between the caller and friend.
func (h *Handlers) AddFriend(ctx context.Context, caller, friend string) string {
	if err := h.addFriend(ctx, caller, friend); err != nil {
		return formatFriendError(err, friend)
	}
	return fmt.Sprintf("%s is now your friend.", friend)
}

// addFriend runs the preflight checks and the symmetric update, reporting
// failures through the shared sentinel catalogue so errors.Is keeps
// working all the way up from the store.
func (h *Handlers) addFriend(ctx context.Context, caller, friend string) error {
	if caller == friend {
		return wqerrors.ErrSelfFriend
	}
	if _, err := h.Users.Get(ctx, friend); err != nil {
		return wqerrors.UnknownUser(friend)
	}
	callerRec, err := h.Users.Get(ctx, caller)
	if err != nil {
		return wqerrors.UnknownUser(caller)
	}
	if callerRec.HasFriend(friend) {
		return fmt.Errorf("%w: %s and %s", wqerrors.ErrAlreadyFriend, caller, friend)
	}

	return h.Users.AddFriendship(ctx, caller, friend)
}

func formatFriendError(err error, friend string) string {
	switch {
	case errors.Is(err, wqerrors.ErrSelfFriend):
		return "Add friend error: you cannot add yourself as a friend."
	case errors.Is(err, wqerrors.ErrAlreadyFriend):
		return fmt.Sprintf("Add friend error: you and %s are already friends.", friend)
	case errors.Is(err, wqerrors.ErrUnknownUser):
		return fmt.Sprintf("Add friend error: %s.", err)
	default:
		return fmt.Sprintf("Add friend error: %s", err)
	}
}

// FriendList lists the caller's friends, each followed by a trailing
// space, matching the original's "f + \" \"" concatenation loop.
func (h *Handlers) FriendList(ctx context.Context, caller string) string {
	rec, err := h.Users.Get(ctx, caller)
	if err != nil || len(rec.Friends) == 0 {
		return "You currently have no friends, add some!"
	}
	var b strings.Builder
	b.WriteString("Your friends are: ")
	for _, friend := range rec.Friends {
		b.WriteString(friend)
		b.WriteString(" ")
	}
	return b.String()
}

// Score reports the caller's cumulative score.
func (h *Handlers) Score(ctx context.Context, caller string) string {
	rec, err := h.Users.Get(ctx, caller)
	if err != nil {
		return fmt.Sprintf("Score error: user %s not found.", caller)
	}
	return fmt.Sprintf("%s, your score is: %d", caller, rec.Score)
}

// Scoreboard reports the caller and their friends sorted by score
// descending, ties broken by nickname for a stable, deterministic order.
func (h *Handlers) Scoreboard(ctx context.Context, caller string) string {
	rec, err := h.Users.Get(ctx, caller)
	if err != nil {
		return fmt.Sprintf("Scoreboard error: user %s not found.", caller)
	}

	type entry struct {
		nickname string
		score    int64
	}
	entries := []entry{{rec.Nickname, rec.Score}}
	for _, friendNick := range rec.Friends {
		friendRec, err := h.Users.Get(ctx, friendNick)
		if err != nil {
			continue
		}
		entries = append(entries, entry{friendRec.Nickname, friendRec.Score})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].nickname < entries[j].nickname
	})

	var parts []string
	for _, e := range entries {
		parts = append(parts, e.nickname, fmt.Sprintf("%d", e.score))
	}
	return strings.Join(parts, " ")
}

// AdjustScore applies delta to nickname's cumulative score, used by the
// match orchestrator to persist duel results (§4.7 Phase 4).
func (h *Handlers) AdjustScore(ctx context.Context, nickname string, delta int) error {
	return h.Users.Update(ctx, nickname, func(rec *user.Record) error {
		rec.Score += int64(delta)
		return nil
	})
}

// Register inserts a new user record with a bcrypt fingerprint of
// password, the salted replacement for the original's unsalted
// hashCode() fingerprint (spec.md §9 Open Question).
func (h *Handlers) Register(ctx context.Context, nickname, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("%w: %v", wqerrors.ErrPersistFailed, err)
	}
	return h.Users.Create(ctx, &user.Record{
		Nickname:     nickname,
		PasswordHash: hash,
		Friends:      []string{},
	})
}
