package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
)

func TestPermissionsForRoles(t *testing.T) {
	cdd := PermissionsFor(payroll.RoleCDD)
	assert.ElementsMatch(t, []string{PermPanelView, PermSalesRecord, PermCleaningRecord}, cdd)
	assert.Equal(t, cdd, PermissionsFor(payroll.RoleCDI))

	resp := PermissionsFor(payroll.RoleResponsable)
	assert.Contains(t, resp, PermLedgerManage)
	assert.Contains(t, resp, PermWeeksView)
	assert.NotContains(t, resp, PermWeeksManage)

	patron := PermissionsFor(payroll.RolePatron)
	assert.Contains(t, patron, PermWeeksManage)
	assert.Contains(t, patron, PermSettingsManage)
	assert.Contains(t, patron, PermEmployeesManage)
	assert.Subset(t, patron, resp)

	assert.True(t, Has(payroll.RolePatron, "WEEKS.MANAGE"))
	assert.False(t, Has(payroll.Role("BARMAN"), PermSalesCancel))
}

func TestMatrix(t *testing.T) {
	perms, rows := Matrix()
	assert.Len(t, rows, len(payroll.Roles))
	assert.Equal(t, PermissionsFor(payroll.RolePatron), perms)
	assert.False(t, rows[0].Permissions[PermLedgerManage])
	assert.True(t, rows[3].Permissions[PermLedgerManage])
}

func TestRequireAny(t *testing.T) {
	mw := Middleware{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := mw.RequireAny(PermWeeksManage)(next)

	cases := []struct {
		name   string
		method string
		role   string
		anon   bool
		want   int
	}{
		{name: "patron allowed", method: http.MethodPost, role: "PATRON", want: http.StatusNoContent},
		{name: "cdi forbidden", method: http.MethodPost, role: "CDI", want: http.StatusForbidden},
		{name: "anonymous get redirected", method: http.MethodGet, anon: true, want: http.StatusSeeOther},
		{name: "anonymous post unauthorized", method: http.MethodPost, anon: true, want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/weeks/finalize", nil)
			if !tc.anon {
				req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{ID: 1, Role: tc.role}))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestRequireAll(t *testing.T) {
	mw := Middleware{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := mw.RequireAll(PermWeeksView, PermWeeksManage)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{ID: 2, Role: "RESPONSABLE"}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireLogin(t *testing.T) {
	mw := Middleware{LoginPath: "/login"}
	handler := mw.RequireLogin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
}

func TestCurrentUser(t *testing.T) {
	assert.Nil(t, CurrentUser(context.Background()))

	ctx := shared.ContextWithIdentity(context.Background(), shared.Identity{ID: 9, DisplayName: "Rosa", Role: "RESPONSABLE"})
	user := CurrentUser(ctx)
	if assert.NotNil(t, user) {
		assert.Equal(t, "Responsable", user.Role)
		assert.True(t, user.Can(PermLedgerManage))
		assert.False(t, user.Can(PermSettingsManage))
	}
}
