package domain

// Roles known to the back office.
const (
	RoleAdmin         = "admin"
	RolePlanificateur = "planificateur"
	RoleCaissier      = "caissier"
	RoleChauffeur     = "chauffeur"
	RoleFinancier     = "financier"
)

// User is the authenticated caller. It is not persisted here; the identity
// provider owns it.
type User struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	EmployeeType string `json:"employee_type,omitempty"`
	CompanyID    string `json:"company_id,omitempty"`
}

// IsExternal reports whether the user is employed by a third party.
func (u User) IsExternal() bool { return u.EmployeeType == EmployeeExternal }
