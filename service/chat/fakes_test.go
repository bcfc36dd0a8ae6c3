package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ===== collaborator fakes =====

type fakeVerifier struct {
	mu    sync.Mutex
	users map[string]User
}

func newFakeVerifier() *fakeVerifier { return &fakeVerifier{users: make(map[string]User)} }

func (v *fakeVerifier) add(u User) string {
	tok := "tok-" + strconv.FormatInt(u.ID, 10)
	v.mu.Lock()
	v.users[tok] = u
	v.mu.Unlock()
	return tok
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (User, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, ok := v.users[token]
	if !ok {
		return User{}, errors.New("invalid token")
	}
	return u, nil
}

type fakeAccess struct {
	mu      sync.Mutex
	allowed map[[2]int64]bool
	err     error
	calls   atomic.Int32
}

func newFakeAccess() *fakeAccess { return &fakeAccess{allowed: make(map[[2]int64]bool)} }

func (a *fakeAccess) grant(userID int64, rooms ...int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range rooms {
		a.allowed[[2]int64{userID, r}] = true
	}
}

func (a *fakeAccess) revoke(userID, roomID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allowed, [2]int64{userID, roomID})
}

func (a *fakeAccess) HasAccess(_ context.Context, userID, roomID int64) (bool, error) {
	a.calls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return false, a.err
	}
	return a.allowed[[2]int64{userID, roomID}], nil
}

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]NewMessage
	users     map[int64]User
	inserts   int
	insertErr error
	fetchErr  error
	delay     func() time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]NewMessage), users: make(map[int64]User)}
}

func (s *fakeStore) Insert(_ context.Context, m NewMessage) (int64, error) {
	if s.delay != nil {
		time.Sleep(s.delay())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.nextID++
	s.rows[s.nextID] = m
	return s.nextID, nil
}

func (s *fakeStore) FetchByID(_ context.Context, id int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, errors.New("not found")
	}
	m := &Message{
		ID:          id,
		RoomID:      row.RoomID,
		UserID:      row.UserID,
		Content:     row.Content,
		MessageType: row.Type,
		ReplyTo:     row.ReplyTo,
		CreatedAt:   time.Now().UTC(),
		User:        s.users[row.UserID],
	}
	if row.ReplyTo != nil {
		if target, ok := s.rows[*row.ReplyTo]; ok {
			m.ReplyToMessage = &ReplyRef{ID: *row.ReplyTo, Content: target.Content, User: s.users[target.UserID]}
		}
	}
	return m, nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

type presenceCall struct {
	userID int64
	online bool
}

type fakePresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (p *fakePresence) SetOnline(_ context.Context, userID int64, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{userID, online})
	return nil
}

func (p *fakePresence) snapshot() []presenceCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]presenceCall(nil), p.calls...)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *fakePublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *fakePublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

// ===== harness =====

type harness struct {
	t         *testing.T
	srv       *Server
	verifier  *fakeVerifier
	access    *fakeAccess
	store     *fakeStore
	presence  *fakePresence
	publisher *fakePublisher
	seq       atomic.Int64
}

func newHarness(t *testing.T, mutate ...func(*Conf)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		verifier:  newFakeVerifier(),
		access:    newFakeAccess(),
		store:     newFakeStore(),
		presence:  &fakePresence{},
		publisher: &fakePublisher{},
	}
	conf := Conf{TypingTTL: 100 * time.Millisecond, Manager: ManagerConf{SweepEvery: time.Hour}}
	for _, m := range mutate {
		m(&conf)
	}
	srv, err := NewServer(conf, Deps{
		Verifier:  h.verifier,
		Access:    h.access,
		Store:     h.store,
		Presence:  h.presence,
		Publisher: h.publisher,
	})
	require.NoError(t, err)
	h.srv = srv
	t.Cleanup(srv.Close)
	return h
}

func (h *harness) user(id int64, name string) User {
	u := User{ID: id, Username: name, Email: name + "@example.com"}
	h.store.mu.Lock()
	h.store.users[id] = u.Public()
	h.store.mu.Unlock()
	return u
}

func (h *harness) rawConn() *WsConn {
	return h.srv.NewConn("c"+strconv.FormatInt(h.seq.Add(1), 10), "test", nil)
}

// connect returns an authenticated connection with its auth_success
// already drained.
func (h *harness) connect(u User) *WsConn {
	h.t.Helper()
	c := h.rawConn()
	require.NoError(h.t, h.srv.Authenticate(context.Background(), c, h.verifier.add(u)))
	frames := drain(h.t, c)
	require.NotEmpty(h.t, ofType(frames, TypeAuthSuccess))
	return c
}

func (h *harness) join(c *WsConn, roomID int64) {
	h.t.Helper()
	u, ok := c.User()
	require.True(h.t, ok)
	h.access.grant(u.ID, roomID)
	require.NoError(h.t, h.srv.JoinRoom(context.Background(), c, roomID))
}

type gotFrame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func drain(t *testing.T, c *WsConn) []gotFrame {
	t.Helper()
	var out []gotFrame
	for {
		select {
		case data := <-c.Outbound():
			var f gotFrame
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func drainAll(t *testing.T, conns ...*WsConn) {
	for _, c := range conns {
		drain(t, c)
	}
}

func ofType(frames []gotFrame, typ string) []gotFrame {
	var out []gotFrame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func num(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func payloadUserID(f gotFrame) int64 {
	u, _ := f.Payload["user"].(map[string]any)
	return num(u["id"])
}
