package core

// Principal is the authenticated caller: a user acting within one school.
// It is built from verified token claims and trusted as is.
type Principal struct {
	UserID   string `json:"user_id"`
	SchoolID string `json:"school_id"`
	Role     string `json:"role"`
}

func (p Principal) Family() string { return RoleFamily(p.Role) }
func (p Principal) IsAdmin() bool  { return IsAdminRole(p.Role) }
func (p Principal) IsTeacher() bool {
	return IsTeacherRole(p.Role)
}
