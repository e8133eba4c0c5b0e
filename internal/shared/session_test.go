package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "panel_session", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sessions, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sessions.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SignIn(42)
	sess.SetCSRFToken("tok")
	sess.AddFlash(FlashMessage{Kind: "success", Message: "ok"})

	rec := httptest.NewRecorder()
	require.NoError(t, sessions.Commit(ctx, rec, sess))
	assert.True(t, mr.Exists(sessionKeyPrefix+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	loaded, err := sessions.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, int64(42), loaded.EmployeeID())
	assert.Equal(t, "tok", loaded.CSRFToken())

	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "ok", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestSignInDropsAnonymousCSRFToken(t *testing.T) {
	sessions, _ := newTestSessions(t)
	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetCSRFToken("anon")

	sess.SignIn(7)
	assert.Equal(t, int64(7), sess.EmployeeID())
	assert.Empty(t, sess.CSRFToken())

	rec := httptest.NewRecorder()
	require.NoError(t, sessions.Commit(context.Background(), rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSessionRejectsForgedCookie(t *testing.T) {
	sessions, _ := newTestSessions(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "panel_session", Value: "../../etc"})

	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "../../etc", sess.ID)
	assert.Zero(t, sess.EmployeeID())
}

func TestSessionDestroyAndRenew(t *testing.T) {
	sessions, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sessions.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sessions.Commit(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID

	require.NoError(t, sessions.Renew(ctx, sess))
	assert.NotEqual(t, oldID, sess.ID)
	assert.False(t, mr.Exists(sessionKeyPrefix+oldID))

	require.NoError(t, sessions.Commit(ctx, httptest.NewRecorder(), sess))
	sessions.Destroy(sess)
	rec := httptest.NewRecorder()
	require.NoError(t, sessions.Commit(ctx, rec, sess))
	assert.False(t, mr.Exists(sessionKeyPrefix+sess.ID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestCSRFTokens(t *testing.T) {
	csrf := NewCSRFManager("secret")
	sess := &Session{ID: "abc"}
	ctx := context.Background()

	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, "nope"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, &Session{ID: "other"}, token), ErrCSRFTokenMissing)
}

func TestPagination(t *testing.T) {
	p := NewPagination(3, 10, 45)
	assert.Equal(t, 5, p.TotalPages)
	assert.Equal(t, 20, p.Offset())
	assert.True(t, p.HasPrev())
	assert.True(t, p.HasNext())

	empty := NewPagination(4, 0, 0)
	assert.Equal(t, 1, empty.Page)
	assert.Equal(t, 25, empty.PerPage)
	assert.False(t, empty.HasNext())
}

func TestUserSafeMessage(t *testing.T) {
	assert.Equal(t, "Stock vide", UserSafeMessage(NewUserError("Stock vide", nil)))
	assert.Equal(t, "Une erreur interne est survenue.", UserSafeMessage(assert.AnError))
	assert.Empty(t, UserSafeMessage(nil))
}
