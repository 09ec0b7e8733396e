package shared

// Permissions declared for RBAC.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermLedgerView = "finance.ledger.view"
	PermLedgerPost = "finance.ledger.post"

	PermReconcileView   = "finance.reconcile.view"
	PermReconcileCommit = "finance.reconcile.commit"

	PermFXView   = "finance.fx.view"
	PermFXManage = "finance.fx.manage"
)

// CoreScopes lists permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
	}
}

// FinanceScopes lists permissions related to the finance modules.
func FinanceScopes() []string {
	return []string{
		PermLedgerView,
		PermLedgerPost,
		PermReconcileView,
		PermReconcileCommit,
		PermFXView,
		PermFXManage,
	}
}

// AllScopes returns every declared permission.
func AllScopes() []string {
	return append(CoreScopes(), FinanceScopes()...)
}
