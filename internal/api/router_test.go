package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	mw "roomscan/internal/api/middleware"
	"roomscan/internal/identity"
	"roomscan/pkg/models"
)

type staticVerifier struct {
	id identity.Identity
}

func (v *staticVerifier) Verify(context.Context, string) (identity.Identity, error) {
	return v.id, nil
}

func testDeps(role string) Dependencies {
	return Dependencies{
		Auth: mw.NewAuth(&staticVerifier{id: identity.Identity{SubjectID: uuid.New(), Role: role}}),
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
}

func TestRouter_HealthIsPublic(t *testing.T) {
	router := NewRouter(testDeps(models.RoleUser))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without credentials, got %d", rec.Code)
	}
}

func TestRouter_UploadsRequireAuth(t *testing.T) {
	router := NewRouter(testDeps(models.RoleUser))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestRouter_UnwiredHandlerIs501(t *testing.T) {
	router := NewRouter(testDeps(models.RoleUser))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil)
	r.Header.Set("Authorization", "Bearer rs_whatever12")
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for unwired handler, got %d", rec.Code)
	}
}

func TestRouter_AdminRoutesNeedAdminRole(t *testing.T) {
	router := NewRouter(testDeps(models.RoleUser))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/keys", nil)
	r.Header.Set("Authorization", "Bearer rs_whatever12")
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	router = NewRouter(testDeps(models.RoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for admin on unwired handler, got %d", rec.Code)
	}
}
