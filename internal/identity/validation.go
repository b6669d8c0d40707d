package identity

import "regexp"

// NameValidator decides whether a display name is acceptable and, if not, why.
type NameValidator func(name string) (accepted bool, reason string)

var displayNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// DefaultNameValidator accepts 1 to 32 letters, digits or underscores.
func DefaultNameValidator(name string) (bool, string) {
	if name == "" {
		return false, "name must not be empty"
	}
	if !displayNamePattern.MatchString(name) {
		return false, "only letters, digits and underscores are allowed, up to 32 characters"
	}
	return true, ""
}
