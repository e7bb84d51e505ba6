// Package store persists user records. FileUserStore is the reference,
// default backend; MongoUserStore adapts the teacher's Mongo-backed
// repository to the same interface.
package store

import (
	"context"

	"github.com/gioleppe/Word-Quizzle/internal/domain/user"
)

// UserStore is the persistence boundary every handler and usecase talks to.
// Implementations must treat Nickname as the primary key and must not
// return an internal pointer from Get: callers may mutate the result.
type UserStore interface {
	Create(ctx context.Context, rec *user.Record) error
	Get(ctx context.Context, nickname string) (*user.Record, error)
	Update(ctx context.Context, nickname string, mutate func(rec *user.Record) error) error
	// AddFriendship adds a and b to each other's friend lists as a single
	// critical section: either both records gain the friendship or
	// neither does, so the friend graph can never end up asymmetric.
	AddFriendship(ctx context.Context, a, b string) error
	All(ctx context.Context) ([]*user.Record, error)
	Close() error
}
