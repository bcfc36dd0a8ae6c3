package pg

import (
	"context"
	"errors"
	"time"

	"RoomGate/service/chat"
	"RoomGate/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	Migrate  bool   `yaml:"migrate"` // create tables on start
}

// Schema is the minimal layout the gateway reads and writes. Room and
// membership administration belong to other services.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id         BIGSERIAL PRIMARY KEY,
    username   TEXT NOT NULL,
    email      TEXT NOT NULL DEFAULT '',
    avatar     TEXT NOT NULL DEFAULT '',
    is_online  BOOLEAN NOT NULL DEFAULT FALSE,
    last_seen  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS rooms (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS room_members (
    room_id   BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
    user_id   BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (room_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
    id           BIGSERIAL PRIMARY KEY,
    room_id      BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
    user_id      BIGINT NOT NULL REFERENCES users(id),
    content      TEXT NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'text',
    reply_to     BIGINT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    edited_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS messages_room_created ON messages (room_id, created_at);
`

// Store implements chat.RoomAccess, chat.MessageStore and
// chat.PresenceSink on one pool.
type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, c Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, errs.Wrap(err, "parse postgres dsn")
	}
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errs.Wrap(err, "connect postgres")
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(err, "ping postgres")
	}
	s := &Store{pool: pool}
	if c.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return errs.Wrap(err, "migrate")
}

func (s *Store) HasAccess(ctx context.Context, userID, roomID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`,
		roomID, userID).Scan(&ok)
	if err != nil {
		return false, errs.Wrap(err, "query room access")
	}
	return ok, nil
}

func (s *Store) Insert(ctx context.Context, m chat.NewMessage) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, user_id, content, message_type, reply_to)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		m.RoomID, m.UserID, m.Content, string(m.Type), m.ReplyTo).Scan(&id)
	if err != nil {
		return 0, errs.Wrap(err, "insert message")
	}
	return id, nil
}

const fetchMessage = `
SELECT m.id, m.room_id, m.user_id, m.content, m.message_type, m.reply_to,
       m.created_at, m.edited_at,
       u.username, u.avatar,
       r.id, r.content, ru.id, ru.username, ru.avatar
  FROM messages m
  JOIN users u       ON u.id = m.user_id
  LEFT JOIN messages r ON r.id = m.reply_to
  LEFT JOIN users ru   ON ru.id = r.user_id
 WHERE m.id = $1`

func (s *Store) FetchByID(ctx context.Context, id int64) (*chat.Message, error) {
	var (
		m        chat.Message
		typ      string
		avatar   string
		rID      *int64
		rContent *string
		ruID     *int64
		ruName   *string
		ruAvatar *string
	)
	err := s.pool.QueryRow(ctx, fetchMessage, id).Scan(
		&m.ID, &m.RoomID, &m.UserID, &m.Content, &typ, &m.ReplyTo,
		&m.CreatedAt, &m.EditedAt,
		&m.User.Username, &avatar,
		&rID, &rContent, &ruID, &ruName, &ruAvatar,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Wrapf(err, "message %d", id)
	}
	if err != nil {
		return nil, errs.Wrap(err, "fetch message")
	}
	m.MessageType = chat.MessageType(typ)
	m.User.ID = m.UserID
	m.User.Avatar = avatar
	m.CreatedAt = m.CreatedAt.UTC()
	if rID != nil {
		ref := &chat.ReplyRef{ID: *rID, Content: deref(rContent)}
		if ruID != nil {
			ref.User = chat.User{ID: *ruID, Username: deref(ruName), Avatar: deref(ruAvatar)}
		}
		m.ReplyToMessage = ref
	}
	return &m, nil
}

func (s *Store) SetOnline(ctx context.Context, userID int64, online bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET is_online=$2, last_seen=now() WHERE id=$1`, userID, online)
	return errs.Wrap(err, "update presence")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
