package reconciliation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian-books/internal/ledger"
	"github.com/meridian-books/meridian-books/internal/rbac"
	"github.com/meridian-books/meridian-books/internal/shared"
)

type stubRBACRepo struct {
	perms []string
}

func (s stubRBACRepo) ListRoles(ctx context.Context) ([]rbac.Role, error) { return nil, nil }

func (s stubRBACRepo) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	return rbac.Role{}, rbac.ErrNotFound
}

func (s stubRBACRepo) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	return nil, nil
}
func (s stubRBACRepo) EnsurePermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	return rbac.Permission{Name: name}, nil
}
func (s stubRBACRepo) AssignRole(ctx context.Context, userID, roleID int64) error { return nil }

func (s stubRBACRepo) RemoveRole(ctx context.Context, userID, roleID int64) error { return nil }

func (s stubRBACRepo) UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.perms, nil
}

// newReconRouter mounts the handler behind a middleware that fakes an
// authenticated session for user 42.
func newReconRouter(svc *Service, perms []string) http.Handler {
	middleware := rbac.Middleware{Service: rbac.NewService(stubRBACRepo{perms: perms})}
	handler := NewHandler(nil, svc, middleware, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithSession(req.Context(), &shared.Session{Token: "test", UserID: 42})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/finance/reconciliation", handler.MountRoutes)
	return r
}

func TestHandlerListCandidates(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.accounts[7] = ledger.Account{ID: 7, CompanyID: 3, Type: ledger.AccountTypeReceivable}
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -100))
	svc, _ := newTestService(repo)
	router := newReconRouter(svc, []string{shared.PermReconcileView})

	req := httptest.NewRequest(http.MethodGet, "/finance/reconciliation/candidates?account_id=7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var page CandidatePage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 2, page.TotalCount)
	require.Len(t, page.Lines, 2)
}

func TestHandlerListCandidatesRequiresAccount(t *testing.T) {
	svc, _ := newTestService(newMemoryReconRepo())
	router := newReconRouter(svc, []string{shared.PermReconcileView})

	req := httptest.NewRequest(http.MethodGet, "/finance/reconciliation/candidates", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerCommitHappyPath(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -100))
	svc, _ := newTestService(repo)
	router := newReconRouter(svc, []string{shared.PermReconcileCommit})

	body := `{"line_ids":[1,2]}`
	req := httptest.NewRequest(http.MethodPost, "/finance/reconciliation/commit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "reconciled")
	require.True(t, repo.lines[1].Reconciled)
}

func TestHandlerCommitSurfacesDomainErrors(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -80))
	svc, _ := newTestService(repo)
	router := newReconRouter(svc, []string{shared.PermReconcileCommit})

	body := `{"line_ids":[1,2]}`
	req := httptest.NewRequest(http.MethodPost, "/finance/reconciliation/commit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "write-off")
}

func TestHandlerCommitConflict(t *testing.T) {
	repo := newMemoryReconRepo()
	line := receivableLine(1, 100)
	line.Reconciled = true
	repo.addLine(line)
	repo.addLine(receivableLine(2, -100))
	svc, _ := newTestService(repo)
	router := newReconRouter(svc, []string{shared.PermReconcileCommit})

	body := `{"line_ids":[1,2]}`
	req := httptest.NewRequest(http.MethodPost, "/finance/reconciliation/commit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerCommitRequiresPermission(t *testing.T) {
	svc, _ := newTestService(newMemoryReconRepo())
	router := newReconRouter(svc, []string{shared.PermReconcileView})

	body := `{"line_ids":[1,2]}`
	req := httptest.NewRequest(http.MethodPost, "/finance/reconciliation/commit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerCommitRejectsBadPayload(t *testing.T) {
	svc, _ := newTestService(newMemoryReconRepo())
	router := newReconRouter(svc, []string{shared.PermReconcileCommit})

	req := httptest.NewRequest(http.MethodPost, "/finance/reconciliation/commit", strings.NewReader(`{"line_ids":[]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
