package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleNurse     = "nurse"
	RolePhysician = "physician"
	RoleObserver  = "observer" // read-only console
	RoleAdmin     = "admin"
)

// CallerRoles may start and end calls.
var CallerRoles = []string{RoleNurse, RolePhysician}

func IsAdmin(role string) bool { return role == RoleAdmin }
