package auth

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin        = "admin"
	RolePractitioner = "practitioner"
	RoleSecretary    = "secretary"
)

// Permission names one action on patient data.
type Permission string

const (
	PermPatientRead       Permission = "patient:read"
	PermPatientWrite      Permission = "patient:write"
	PermCareSheetRead     Permission = "care_sheet:read"
	PermCareSheetWrite    Permission = "care_sheet:write"
	PermPrescriptionRead  Permission = "prescription:read"
	PermPrescriptionWrite Permission = "prescription:write"
	PermDuplicateRead     Permission = "duplicate:read"
	PermDuplicateMerge    Permission = "duplicate:merge"
)

// grants lists what each non-admin role may do. Admins may do everything.
// Only practitioners prescribe; merging deletes patients and stays with the
// secretariat.
var grants = map[string][]Permission{
	RolePractitioner: {
		PermPatientRead,
		PermCareSheetRead, PermCareSheetWrite,
		PermPrescriptionRead, PermPrescriptionWrite,
		PermDuplicateRead,
	},
	RoleSecretary: {
		PermPatientRead, PermPatientWrite,
		PermCareSheetRead, PermCareSheetWrite,
		PermPrescriptionRead,
		PermDuplicateRead, PermDuplicateMerge,
	},
}

// Roles returns every role a token may carry.
func Roles() []string {
	return []string{RoleAdmin, RolePractitioner, RoleSecretary}
}

func IsKnownRole(role string) bool {
	return slices.Contains(Roles(), role)
}

// Can reports whether any of roles grants p.
func Can(roles []string, p Permission) bool {
	for _, r := range roles {
		if r == RoleAdmin || slices.Contains(grants[r], p) {
			return true
		}
	}
	return false
}

// Require rejects requests whose user lacks p with 403.
func Require(p Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !Can(RolesFromContext(c.Request().Context()), p) {
				return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("missing permission %s", p))
			}
			return next(c)
		}
	}
}
