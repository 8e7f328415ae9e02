package domain

// SystemActorID identifies transitions performed by the scheduler.
const SystemActorID = "system"

// Actor is the platform identity invoking an operation.
type Actor struct {
	ID            string
	Name          string
	Roles         []string
	Administrator bool
	Bot           bool
}

// SystemActor returns the actor used for automatic transitions.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Name: "system", Administrator: true, Bot: true}
}

// HasRole reports whether the actor holds role. An empty role never matches.
func (a Actor) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff reports support or trainee capability within a community.
func IsStaff(a Actor, s Settings) bool {
	return a.HasRole(s.SupportRole) || a.HasRole(s.TraineeRole)
}

// IsAdmin reports administrator capability within a community.
func IsAdmin(a Actor, s Settings) bool {
	return a.Administrator || a.HasRole(s.AdminRole)
}

// IsStaffOrAdmin is the capability required to close tickets.
func IsStaffOrAdmin(a Actor, s Settings) bool {
	return IsStaff(a, s) || IsAdmin(a, s)
}
