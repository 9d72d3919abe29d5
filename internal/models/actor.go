package models

// ActorType identifies who performed an audited action.
type ActorType int

// ActorType constants define the closed set of audit actors.
const (
	// ActorTypeOwner marks an action taken by a pet owner.
	ActorTypeOwner ActorType = 1
	// ActorTypeClinic marks an action taken by clinic staff.
	ActorTypeClinic ActorType = 2
	// ActorTypeAdmin marks an action taken by a platform admin.
	ActorTypeAdmin ActorType = 3
	// ActorTypeSystem marks an action taken by the engine itself.
	ActorTypeSystem ActorType = 4
)

// Valid reports whether the actor type is one of the known constants.
func (a ActorType) Valid() bool {
	return a >= ActorTypeOwner && a <= ActorTypeSystem
}

// String returns the actor type name used in logs and audit rows.
func (a ActorType) String() string {
	switch a {
	case ActorTypeOwner:
		return "owner"
	case ActorTypeClinic:
		return "clinic"
	case ActorTypeAdmin:
		return "admin"
	case ActorTypeSystem:
		return "system"
	default:
		return "unknown"
	}
}
