package enums

import "fmt"

// ActorRole identifies who performed a workflow action. Authorization happens
// upstream; the role is recorded for audit only.
type ActorRole string

const (
	ActorRoleStaff             ActorRole = "service_center_staff"
	ActorRoleManager           ActorRole = "service_center_manager"
	ActorRoleTechnician        ActorRole = "technician"
	ActorRolePartsCoordinator  ActorRole = "parts_coordinator"
	ActorRoleManufacturerStaff ActorRole = "manufacturer_staff"
	ActorRoleSystem            ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleStaff,
	ActorRoleManager,
	ActorRoleTechnician,
	ActorRolePartsCoordinator,
	ActorRoleManufacturerStaff,
	ActorRoleSystem,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
