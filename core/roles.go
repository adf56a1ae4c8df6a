package core

import "strings"

// roles
const (
	RoleAdmin          = "admin:"
	RoleAdminOwner     = "admin:owner"
	RoleAdminPrincipal = "admin:principal"
	RoleTeacher        = "teacher:"
	RoleStudent        = "student:"
)

// role families: the keys device quotas are configured under
const (
	FamilyAdmin   = "admin"
	FamilyTeacher = "teacher"
	FamilyStudent = "student"
	FamilyOther   = "other"
)

var AllRoles = []string{RoleAdmin, RoleAdminOwner, RoleAdminPrincipal, RoleTeacher, RoleStudent}

// RoleFamily collapses a role like "admin:owner" into its quota family ("admin").
func RoleFamily(role string) string {
	family := strings.SplitN(CleanString(role, true), ":", 2)[0]
	switch family {
	case FamilyAdmin, FamilyTeacher, FamilyStudent:
		return family
	default:
		return FamilyOther
	}
}

func IsAdminRole(role string) bool   { return RoleFamily(role) == FamilyAdmin }
func IsTeacherRole(role string) bool { return RoleFamily(role) == FamilyTeacher }
