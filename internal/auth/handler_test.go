package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-books/meridian-books/internal/auth"
	"github.com/meridian-books/meridian-books/internal/shared"
	_ "github.com/meridian-books/meridian-books/testing"
)

type stubRepo struct {
	user    *auth.User
	logins  int
	logouts int
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) RecordLogin(ctx context.Context, token string, userID int64, expiresAt time.Time, ip, ua string) error {
	s.logins++
	return nil
}

func (s *stubRepo) RecordLogout(ctx context.Context, token string) error {
	s.logouts++
	return nil
}

func newAuthHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(redisClient, time.Hour)
	handler := auth.NewHandler(nil, auth.NewService(repo), sessions)
	return handler, sessions
}

func newRouter(handler *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	return r
}

func activeUser(t *testing.T, password string) *auth.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.User{
		ID:           1,
		Email:        "clerk@example.com",
		PasswordHash: string(hash),
		IsActive:     true,
	}
}

func TestLoginIssuesToken(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "correcthorse")}
	handler, sessions := newAuthHandler(t, repo)

	body := `{"email":"clerk@example.com","password":"correcthorse"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router := newRouter(handler)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.Equal(t, int64(1), resp.UserID)
	require.Equal(t, 1, repo.logins)

	// The issued token resolves back to a session.
	lookup := httptest.NewRequest(http.MethodGet, "/", nil)
	lookup.Header.Set(shared.SessionHeader, "Bearer "+resp.Token)
	sess, err := sessions.Resolve(context.Background(), lookup)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, int64(1), sess.UserID)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "correcthorse")}
	handler, _ := newAuthHandler(t, repo)

	body := `{"email":"clerk@example.com","password":"wrongwrong"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, repo.logins)
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	user := activeUser(t, "correcthorse")
	user.IsActive = false
	handler, _ := newAuthHandler(t, &stubRepo{user: user})

	body := `{"email":"clerk@example.com","password":"correcthorse"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginValidatesPayload(t *testing.T) {
	handler, _ := newAuthHandler(t, &stubRepo{})

	body := `{"email":"not-an-email","password":"short"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "correcthorse")}
	handler, sessions := newAuthHandler(t, repo)

	sess, err := sessions.Issue(context.Background(), 1, "127.0.0.1", "test")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), &sess))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, repo.logouts)

	lookup := httptest.NewRequest(http.MethodGet, "/", nil)
	lookup.Header.Set(shared.SessionHeader, "Bearer "+sess.Token)
	resolved, err := sessions.Resolve(context.Background(), lookup)
	require.NoError(t, err)
	require.Nil(t, resolved)
}
