package rbac

import (
	"context"
	"sort"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
)

// Permission names checked by handlers.
const (
	PermPanelView       = "panel.view"
	PermSalesRecord     = "sales.record"
	PermSalesCancel     = "sales.cancel"
	PermProductsManage  = "products.manage"
	PermCleaningRecord  = "cleaning.record"
	PermLedgerManage    = "ledger.manage"
	PermWeeksView       = "weeks.view"
	PermWeeksManage     = "weeks.manage"
	PermReportsView     = "reports.view"
	PermEmployeesView   = "employees.view"
	PermEmployeesManage = "employees.manage"
	PermSettingsManage  = "settings.manage"
	PermJobsView        = "jobs.view"
)

var basePermissions = []string{PermPanelView, PermSalesRecord, PermCleaningRecord}

var responsablePermissions = []string{
	PermSalesCancel,
	PermLedgerManage,
	PermWeeksView,
	PermReportsView,
	PermEmployeesView,
}

var patronPermissions = []string{
	PermProductsManage,
	PermWeeksManage,
	PermEmployeesManage,
	PermSettingsManage,
	PermJobsView,
}

// PermissionsFor returns the permissions granted to role, sorted.
func PermissionsFor(role payroll.Role) []string {
	perms := append([]string(nil), basePermissions...)
	if role.Grade() >= payroll.RoleResponsable.Grade() {
		perms = append(perms, responsablePermissions...)
	}
	if role == payroll.RolePatron {
		perms = append(perms, patronPermissions...)
	}
	sort.Strings(perms)
	return perms
}

// Has reports whether role holds perm.
func Has(role payroll.Role, perm string) bool {
	return hasAnyPermission(PermissionsFor(role), normalizePermissions([]string{perm}))
}

// MatrixRow is one role with its granted permissions, used by the permissions page.
type MatrixRow struct {
	Role        payroll.Role
	Permissions map[string]bool
}

// Matrix lists every permission and the roles holding it.
func Matrix() ([]string, []MatrixRow) {
	all := PermissionsFor(payroll.RolePatron)
	rows := make([]MatrixRow, 0, len(payroll.Roles))
	for _, role := range payroll.Roles {
		granted := make(map[string]bool, len(all))
		for _, p := range PermissionsFor(role) {
			granted[p] = true
		}
		rows = append(rows, MatrixRow{Role: role, Permissions: granted})
	}
	return all, rows
}

// CurrentUser builds the navigation view of the authenticated employee.
// It returns nil for anonymous requests.
func CurrentUser(ctx context.Context) *view.User {
	id, ok := shared.IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	role := payroll.Role(id.Role)
	perms := make(map[string]bool)
	for _, p := range PermissionsFor(role) {
		perms[p] = true
	}
	return &view.User{
		ID:          id.ID,
		Username:    id.Username,
		DisplayName: id.DisplayName,
		Role:        role.Label(),
		Permissions: perms,
	}
}
