package types

import (
	"regexp"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidID checks session and participant ID format. The 1-50 character
// limit keeps IDs usable as map keys, redis channel suffixes, and UI labels.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidRole reports whether role is one of the two known roles.
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// IsValidCommandType reports whether the command type is routable.
func IsValidCommandType(cmdType string) bool {
	switch cmdType {
	case CommandLeave, CommandStartCheck, CommandSubmitResponse, CommandEndSession:
		return true
	default:
		return false
	}
}

// ValidateQuestion bounds teacher-supplied question text. An empty question
// is allowed; the poll engine substitutes the default prompt.
func ValidateQuestion(question string) error {
	if len(question) > 500 {
		return ErrInvalidQuestion
	}
	return nil
}
