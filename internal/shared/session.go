package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "panel:session:"

// FlashMessage is a notice shown once on the next rendered page.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager keeps panel sessions in Redis, keyed by a UUID cookie.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session is the per-browser state of the panel: who is signed in, the CSRF
// token bound to the session id, and pending flash messages.
type Session struct {
	ID string

	state     sessionState
	stored    bool
	dirty     bool
	destroyed bool
}

type sessionState struct {
	EmployeeID int64          `json:"employee_id,omitempty"`
	CSRFToken  string         `json:"csrf_token,omitempty"`
	Flashes    []FlashMessage `json:"flashes,omitempty"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Load returns the session named by the request cookie. Missing, expired or
// malformed cookies yield a fresh anonymous session.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return anonymousSession(), nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		// Only server-issued ids are used as redis keys.
		return anonymousSession(), nil
	}

	payload, err := sm.client.Get(ctx, sm.key(cookie.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		sess := anonymousSession()
		sess.ID = cookie.Value
		return sess, nil
	}
	if err != nil {
		return nil, err
	}
	sess := &Session{ID: cookie.Value, stored: true}
	if err := json.Unmarshal(payload, &sess.state); err != nil {
		return nil, err
	}
	return sess, nil
}

// Commit writes a changed session back to Redis and refreshes the cookie.
// Destroyed sessions are deleted and their cookie expired.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.key(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}
	if sess.dirty || !sess.stored {
		data, err := json.Marshal(sess.state)
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sm.key(sess.ID), data, sm.ttl).Err(); err != nil {
			return err
		}
		sess.dirty = false
		sess.stored = true
	}
	http.SetCookie(w, sm.cookie(sess.ID, int(sm.ttl/time.Second)))
	return nil
}

// Destroy marks the session for deletion on the next Commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// Renew moves the session to a new id. Login calls it to prevent fixation.
func (sm *SessionManager) Renew(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.stored {
		if err := sm.client.Del(ctx, sm.key(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
	}
	sess.ID = uuid.NewString()
	sess.stored = false
	sess.dirty = true
	return nil
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (sm *SessionManager) key(id string) string {
	return sessionKeyPrefix + id
}

func anonymousSession() *Session {
	return &Session{ID: uuid.NewString(), dirty: true}
}

// SignIn binds the session to an employee. The CSRF token issued to the
// anonymous session is dropped.
func (s *Session) SignIn(employeeID int64) {
	s.state.EmployeeID = employeeID
	s.state.CSRFToken = ""
	s.dirty = true
}

// EmployeeID returns the signed-in employee, 0 when anonymous.
func (s *Session) EmployeeID() int64 {
	return s.state.EmployeeID
}

// CSRFToken returns the token bound to this session, empty when none was issued.
func (s *Session) CSRFToken() string {
	return s.state.CSRFToken
}

// SetCSRFToken binds token to the session.
func (s *Session) SetCSRFToken(token string) {
	s.state.CSRFToken = token
	s.dirty = true
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.state.Flashes = append(s.state.Flashes, msg)
	s.dirty = true
}

// PopFlash removes and returns the oldest flash message.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.state.Flashes) == 0 {
		return nil
	}
	msg := s.state.Flashes[0]
	s.state.Flashes = s.state.Flashes[1:]
	s.dirty = true
	return &msg
}
