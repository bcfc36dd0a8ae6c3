package mgo

import (
	"context"
	"errors"
	"time"

	"RoomGate/data/database/mgo/mongoutil"
	"RoomGate/service/chat"
	"RoomGate/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collUsers    = "users"
	collMembers  = "room_members"
	collMessages = "messages"
	collCounters = "counters"
)

type userDoc struct {
	ID       int64      `bson:"_id"`
	Username string     `bson:"username"`
	Email    string     `bson:"email,omitempty"`
	Avatar   string     `bson:"avatar,omitempty"`
	IsOnline bool       `bson:"isOnline"`
	LastSeen *time.Time `bson:"lastSeen,omitempty"`
}

type memberDoc struct {
	RoomID int64 `bson:"roomId"`
	UserID int64 `bson:"userId"`
}

type messageDoc struct {
	ID          int64      `bson:"_id"`
	RoomID      int64      `bson:"roomId"`
	UserID      int64      `bson:"userId"`
	Content     string     `bson:"content"`
	MessageType string     `bson:"messageType"`
	ReplyTo     *int64     `bson:"replyTo,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt"`
	EditedAt    *time.Time `bson:"editedAt,omitempty"`
}

// Store is the MongoDB rendition of the room access, message and presence
// collaborators. Message ids come from a counters document so they stay
// int64 and increasing like the SQL store's.
type Store struct {
	cli *mongoutil.Client
	db  *mongo.Database
}

func Open(ctx context.Context, cfg *mongoutil.Config) (*Store, error) {
	cli, err := mongoutil.NewMongoDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{cli: cli, db: cli.GetDB()}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = cli.Close(ctx)
		return nil, err
	}
	return s, nil
}

func New(db *mongo.Database) *Store { return &Store{db: db} }

func (s *Store) Close(ctx context.Context) error {
	if s.cli == nil {
		return nil
	}
	return s.cli.Close(ctx)
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(collMembers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}, {Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errs.Wrap(err, "index room_members")
	}
	_, err = s.db.Collection(collMessages).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	return errs.Wrap(err, "index messages")
}

func (s *Store) HasAccess(ctx context.Context, userID, roomID int64) (bool, error) {
	n, err := s.db.Collection(collMembers).CountDocuments(ctx,
		bson.M{"roomId": roomID, "userId": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, errs.Wrap(err, "count room_members")
	}
	return n > 0, nil
}

func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, errs.Wrapf(err, "next id %s", name)
	}
	return out.Seq, nil
}

func (s *Store) Insert(ctx context.Context, m chat.NewMessage) (int64, error) {
	id, err := s.nextID(ctx, collMessages)
	if err != nil {
		return 0, err
	}
	doc := messageDoc{
		ID:          id,
		RoomID:      m.RoomID,
		UserID:      m.UserID,
		Content:     m.Content,
		MessageType: string(m.Type),
		ReplyTo:     m.ReplyTo,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.db.Collection(collMessages).InsertOne(ctx, doc); err != nil {
		return 0, errs.Wrap(err, "insert message")
	}
	return id, nil
}

func (s *Store) FetchByID(ctx context.Context, id int64) (*chat.Message, error) {
	var doc messageDoc
	if err := s.db.Collection(collMessages).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, errs.Wrapf(err, "find message %d", id)
	}
	author, err := s.user(ctx, doc.UserID)
	if err != nil {
		return nil, err
	}
	m := &chat.Message{
		ID:          doc.ID,
		RoomID:      doc.RoomID,
		UserID:      doc.UserID,
		Content:     doc.Content,
		MessageType: chat.MessageType(doc.MessageType),
		ReplyTo:     doc.ReplyTo,
		CreatedAt:   doc.CreatedAt.UTC(),
		EditedAt:    doc.EditedAt,
		User:        author,
	}
	if doc.ReplyTo != nil {
		var target messageDoc
		err := s.db.Collection(collMessages).FindOne(ctx, bson.M{"_id": *doc.ReplyTo}).Decode(&target)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			// dangling reply: no summary
		case err != nil:
			return nil, errs.Wrap(err, "find reply target")
		default:
			ref := &chat.ReplyRef{ID: target.ID, Content: target.Content}
			if u, err := s.user(ctx, target.UserID); err == nil {
				ref.User = u
			}
			m.ReplyToMessage = ref
		}
	}
	return m, nil
}

func (s *Store) user(ctx context.Context, id int64) (chat.User, error) {
	var u userDoc
	err := s.db.Collection(collUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.User{ID: id}, nil
	}
	if err != nil {
		return chat.User{}, errs.Wrapf(err, "find user %d", id)
	}
	return chat.User{ID: u.ID, Username: u.Username, Avatar: u.Avatar}, nil
}

func (s *Store) SetOnline(ctx context.Context, userID int64, online bool) error {
	_, err := s.db.Collection(collUsers).UpdateByID(ctx, userID,
		bson.M{"$set": bson.M{"isOnline": online, "lastSeen": time.Now().UTC()}})
	return errs.Wrap(err, "update presence")
}

// AddMember is used by seeding tools and tests; the gateway itself never
// grants access.
func (s *Store) AddMember(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.Collection(collMembers).UpdateOne(ctx,
		bson.M{"roomId": roomID, "userId": userID},
		bson.M{"$setOnInsert": memberDoc{RoomID: roomID, UserID: userID}},
		options.Update().SetUpsert(true))
	return errs.Wrap(err, "add member")
}

func (s *Store) PutUser(ctx context.Context, u chat.User) error {
	_, err := s.db.Collection(collUsers).UpdateByID(ctx, u.ID,
		bson.M{"$set": bson.M{"username": u.Username, "email": u.Email, "avatar": u.Avatar}},
		options.Update().SetUpsert(true))
	return errs.Wrap(err, "put user")
}
