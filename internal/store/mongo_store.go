package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gioleppe/Word-Quizzle/internal/adapters"
	"github.com/gioleppe/Word-Quizzle/internal/domain/user"
	"github.com/gioleppe/Word-Quizzle/internal/wqerrors"
)

// MongoUserStore persists user records in the "users" collection of the
// adapter's database, adapted from the teacher's MongoUserStorage
// (internal/repository/auth_mongo.go) to the Record shape and the
// mutate-and-persist Update semantics this store's callers need.
type MongoUserStore struct {
	adapter *adapters.AdapterMongo
}

// NewMongoUserStore builds a MongoUserStore over an already-initialized
// adapter.
func NewMongoUserStore(adapter *adapters.AdapterMongo) *MongoUserStore {
	return &MongoUserStore{adapter: adapter}
}

func (m *MongoUserStore) collection() *mongo.Collection {
	return m.adapter.Database.Collection("users")
}

func (m *MongoUserStore) Create(ctx context.Context, rec *user.Record) error {
	_, err := m.collection().InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return wqerrors.ErrUserExists
		}
		return fmt.Errorf("%w: %v", wqerrors.ErrPersistFailed, err)
	}
	return nil
}

func (m *MongoUserStore) Get(ctx context.Context, nickname string) (*user.Record, error) {
	var rec user.Record
	err := m.collection().FindOne(ctx, bson.M{"_id": nickname}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, wqerrors.ErrUnknownUser
		}
		return nil, fmt.Errorf("%w: %v", wqerrors.ErrPersistFailed, err)
	}
	return &rec, nil
}

// Update reads, mutates, and replaces the document. It is not
// transactional across concurrent Updates of the same nickname: the
// caller-supplied mutate function must be idempotent-safe under the
// presence registry's own per-nickname serialization, the same assumption
// the file-backed store's single process-wide lock provides for free.
func (m *MongoUserStore) Update(ctx context.Context, nickname string, mutate func(rec *user.Record) error) error {
	rec, err := m.Get(ctx, nickname)
	if err != nil {
		return err
	}
	if err := mutate(rec); err != nil {
		return err
	}
	_, err = m.collection().ReplaceOne(ctx, bson.M{"_id": nickname}, rec)
	if err != nil {
		return fmt.Errorf("%w: %v", wqerrors.ErrPersistFailed, err)
	}
	return nil
}

// AddFriendship adds a and b to each other's friend lists inside a single
// Mongo session transaction, so a failure on the second write rolls back
// the first instead of leaving the friend graph asymmetric.
func (m *MongoUserStore) AddFriendship(ctx context.Context, a, b string) error {
	session, err := m.adapter.Client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %v", wqerrors.ErrPersistFailed, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		res, err := m.collection().UpdateByID(sessCtx, a, bson.M{"$push": bson.M{"friends": b}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, wqerrors.UnknownUser(a)
		}
		res, err = m.collection().UpdateByID(sessCtx, b, bson.M{"$push": bson.M{"friends": a}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, wqerrors.UnknownUser(b)
		}
		return nil, nil
	})
	if errors.Is(err, wqerrors.ErrUnknownUser) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", wqerrors.ErrPersistFailed, err)
	}
	return nil
}

func (m *MongoUserStore) All(ctx context.Context) ([]*user.Record, error) {
	cursor, err := m.collection().Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wqerrors.ErrPersistFailed, err)
	}
	defer cursor.Close(ctx)

	var records []*user.Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", wqerrors.ErrPersistFailed, err)
	}
	return records, nil
}

func (m *MongoUserStore) Close() error {
	return nil
}
