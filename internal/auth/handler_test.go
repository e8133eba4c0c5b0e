package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/tavern-panel/panel/internal/auth"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
	_ "github.com/tavern-panel/panel/testing"
)

type stubRepo struct {
	user    *auth.User
	touched int64
}

func (s *stubRepo) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Username, username) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	s.touched = id
	return nil
}

func newAuthHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	handler := auth.NewHandler(nil, auth.NewService(repo), templates, sessionManager, csrfManager)
	return handler, sessionManager
}

func activeUser(t *testing.T) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &auth.User{ID: 1, Username: "rosa", DisplayName: "Rosa", Role: "CDI", PasswordHash: string(hashed), IsActive: true}
}

func postLogin(t *testing.T, handler *auth.Handler, sessionManager *shared.SessionManager, username, password string) (*httptest.ResponseRecorder, *shared.Session, string) {
	t.Helper()
	postData := url.Values{}
	postData.Set("username", username)
	postData.Set("password", password)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(postData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	sess, err := sessionManager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	originalID := sess.ID
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)
	if err := sessionManager.Commit(ctx, res, sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}
	return res, sess, originalID
}

func TestLoginPage(t *testing.T) {
	handler, sessionManager := newAuthHandler(t, &stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	sess, err := sessionManager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	handler.ShowLoginForTest(res, req)
	if err := sessionManager.Commit(ctx, res, sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "<form") {
		t.Fatalf("expected login form in body")
	}
	if sess.CSRFToken() == "" {
		t.Fatalf("csrf token not set")
	}
}

func TestLoginPageRedirectsAuthenticated(t *testing.T) {
	handler, _ := newAuthHandler(t, &stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{ID: 3}))
	res := httptest.NewRecorder()
	handler.ShowLoginForTest(res, req)

	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := &stubRepo{user: activeUser(t)}
	handler, sessionManager := newAuthHandler(t, repo)

	res, sess, _ := postLogin(t, handler, sessionManager, "rosa", "wrongpass")

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "Identifiant ou mot de passe invalide") {
		t.Fatalf("expected error message in response")
	}
	if sess.EmployeeID() != 0 {
		t.Fatalf("session must stay anonymous")
	}
	if repo.touched != 0 {
		t.Fatalf("last login must not be recorded")
	}
}

func TestLoginInactiveUserRejected(t *testing.T) {
	user := activeUser(t)
	user.IsActive = false
	handler, sessionManager := newAuthHandler(t, &stubRepo{user: user})

	res, _, _ := postLogin(t, handler, sessionManager, "rosa", "correctpass")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestLoginSuccessRotatesSession(t *testing.T) {
	repo := &stubRepo{user: activeUser(t)}
	handler, sessionManager := newAuthHandler(t, repo)

	res, sess, anonID := postLogin(t, handler, sessionManager, "ROSA", "correctpass")
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	if sess.EmployeeID() != 1 {
		t.Fatalf("expected user 1 in session, got %d", sess.EmployeeID())
	}
	if sess.ID == anonID {
		t.Fatalf("expected a fresh session id")
	}
	if repo.touched != 1 {
		t.Fatalf("expected last login recorded")
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	handler, sessionManager := newAuthHandler(t, &stubRepo{})
	r := chiRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	sess, _ := sessionManager.Load(context.Background(), req)
	sess.SignIn(1)
	ctx := shared.ContextWithSession(req.Context(), sess)
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req.WithContext(ctx))
	if err := sessionManager.Commit(ctx, res, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	if loc := res.Header().Get("Location"); loc != "/auth/login" {
		t.Fatalf("unexpected redirect %q", loc)
	}
}

func TestServiceIdentity(t *testing.T) {
	user := activeUser(t)
	svc := auth.NewService(&stubRepo{user: user})

	id, err := svc.Identity(context.Background(), 1)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.Role != "CDI" || id.DisplayName != "Rosa" {
		t.Fatalf("unexpected identity %+v", id)
	}

	user.IsActive = false
	if _, err := svc.Identity(context.Background(), 1); err != shared.ErrNotFound {
		t.Fatalf("expected ErrNotFound for inactive user, got %v", err)
	}
}

func chiRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}
