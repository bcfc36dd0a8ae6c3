package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"RoomGate/service/chat"
	jwtx "RoomGate/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noRooms struct{}

func (noRooms) HasAccess(context.Context, int64, int64) (bool, error) { return false, nil }

func (noRooms) Insert(context.Context, chat.NewMessage) (int64, error) {
	return 0, errors.New("read only")
}

func (noRooms) FetchByID(context.Context, int64) (*chat.Message, error) {
	return nil, errors.New("read only")
}

type fakeCluster struct {
	owners map[int64]string
	err    error
}

func (f *fakeCluster) IsOnline(_ context.Context, id int64) (bool, error) {
	_, ok := f.owners[id]
	return ok, f.err
}

func (f *fakeCluster) Gateway(_ context.Context, id int64) (string, error) {
	return f.owners[id], f.err
}

func (f *fakeCluster) OnlineUsers(context.Context) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]int64, 0, len(f.owners))
	for id := range f.owners {
		out = append(out, id)
	}
	return out, nil
}

type fixture struct {
	srv   *chat.Server
	opts  jwtx.Options
	token string
	eng   *gin.Engine
}

func newFixture(t *testing.T, cluster ClusterPresence) *fixture {
	gin.SetMode(gin.TestMode)
	opts := jwtx.DefaultOptions([]byte("test-secret"))
	verifier := jwtx.NewVerifier(opts)
	srv, err := chat.NewServer(chat.Conf{Manager: chat.ManagerConf{SweepEvery: time.Hour}},
		chat.Deps{Verifier: verifier, Access: noRooms{}, Store: noRooms{}})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	tok, _, err := jwtx.Generate(opts, chat.User{ID: 1, Username: "ann"})
	require.NoError(t, err)

	eng := gin.New()
	Register(eng, Deps{Server: srv, Verifier: verifier, Cluster: cluster, Tokens: &opts})
	return &fixture{srv: srv, opts: opts, token: tok, eng: eng}
}

func (f *fixture) do(method, path string, authed bool) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if authed {
		r.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.eng.ServeHTTP(w, r)
	return w
}

func (f *fixture) online(t *testing.T) {
	c := f.srv.NewConn("c1", "test", nil)
	require.NoError(t, f.srv.Authenticate(context.Background(), c, f.token))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/healthz", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/stats", "/presence/1"} {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, path, false).Code, path)
	}
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/token/refresh", false).Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.online(t)
	w := f.do(http.MethodGet, "/stats", true)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)
	assert.Equal(t, float64(1), got["connections"])
	assert.Equal(t, float64(1), got["onlineUsers"])
	_, has := got["clusterOnline"]
	assert.False(t, has, "no cluster view on a single gateway")

	f = newFixture(t, &fakeCluster{owners: map[int64]string{1: "gw-a", 2: "gw-b", 3: "gw-b"}})
	got = decode[map[string]any](t, f.do(http.MethodGet, "/stats", true))
	assert.Equal(t, float64(3), got["clusterOnline"])

	f = newFixture(t, &fakeCluster{err: errors.New("down")})
	w = f.do(http.MethodGet, "/stats", true)
	assert.Equal(t, http.StatusOK, w.Code, "cluster failure degrades to local stats")
	_, has = decode[map[string]any](t, w)["clusterOnline"]
	assert.False(t, has)
}

func TestPresenceLocal(t *testing.T) {
	f := newFixture(t, nil)
	got := decode[presenceResp](t, f.do(http.MethodGet, "/presence/1", true))
	assert.Equal(t, presenceResp{UserID: 1}, got)

	f.online(t)
	got = decode[presenceResp](t, f.do(http.MethodGet, "/presence/1", true))
	assert.Equal(t, presenceResp{UserID: 1, Online: true, Local: true}, got)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/presence/abc", true).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/presence/0", true).Code)
}

func TestPresenceCluster(t *testing.T) {
	f := newFixture(t, &fakeCluster{owners: map[int64]string{2: "gw-b"}})
	got := decode[presenceResp](t, f.do(http.MethodGet, "/presence/2", true))
	assert.Equal(t, presenceResp{UserID: 2, Online: true, Gateway: "gw-b"}, got)

	got = decode[presenceResp](t, f.do(http.MethodGet, "/presence/5", true))
	assert.False(t, got.Online)

	f = newFixture(t, &fakeCluster{err: errors.New("down")})
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodGet, "/presence/2", true).Code)
}

func TestTokenRefresh(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodPost, "/token/refresh", true)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)
	tok, _ := got["token"].(string)
	require.NotEmpty(t, tok)
	assert.Greater(t, got["expireAt"], float64(time.Now().Unix()))

	u, err := jwtx.NewVerifier(f.opts).Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, "ann", u.Username)
}
