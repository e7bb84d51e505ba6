// Package wqerrors is the sentinel error catalogue shared by every layer of
// the session server, wrapped with %w at each boundary so errors.Is keeps
// working end to end.
package wqerrors

import (
	"errors"
	"fmt"
)

var (
	ErrUserExists     = errors.New("user already exists")
	ErrUnknownUser    = errors.New("user not found")
	ErrWrongPassword  = errors.New("wrong password")
	ErrAlreadyOnline  = errors.New("user already logged in")
	ErrConnectionBusy = errors.New("connection already logged with another account")
	ErrNotOnline      = errors.New("user not online")

	ErrSelfFriend    = errors.New("cannot add yourself as a friend")
	ErrAlreadyFriend = errors.New("users are already friends")
	ErrNotFriends    = errors.New("users are not friends")

	ErrSelfChallenge  = errors.New("cannot challenge yourself")
	ErrFriendOffline  = errors.New("challenged user is offline")
	ErrInviteRefused  = errors.New("match invitation refused")
	ErrInviteTimedOut = errors.New("match invitation timed out")

	ErrStoreClosed    = errors.New("store is closed")
	ErrPersistFailed  = errors.New("durable write failed")
	ErrWordSourceFail = errors.New("word source failed")
)

// unknownUser is a nickname-carrying ErrUnknownUser, so a caller can
// report the exact offending name without parsing an error string while
// errors.Is(err, ErrUnknownUser) still holds for every layer up the stack.
type unknownUser struct {
	nickname string
}

func (e *unknownUser) Error() string {
	return fmt.Sprintf("user %s not found", e.nickname)
}

func (e *unknownUser) Unwrap() error {
	return ErrUnknownUser
}

// UnknownUser builds an ErrUnknownUser naming the missing nickname.
func UnknownUser(nickname string) error {
	return &unknownUser{nickname: nickname}
}
