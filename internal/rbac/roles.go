package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
// Owner, admin and member mirror tenant_users.role.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleMember     = "member"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
