package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate = validator.New(validator.WithRequiredStructEnabled())

	participantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Validate checks a session payload before it reaches the registry.
func (s *Session) Validate() error {
	if err := validate.Struct(s); err != nil {
		return validationError(err)
	}
	for _, userID := range s.Participants.Real {
		if !IsValidParticipantID(userID) {
			return fmt.Errorf("%w: invalid participant id %q", ErrValidation, userID)
		}
	}
	return nil
}

// Normalize applies defaults a client may omit. Kind defaults to text.
func (m *Message) Normalize() {
	m.Content = strings.TrimSpace(m.Content)
	if m.Kind == "" {
		m.Kind = KindText
	}
}

// Validate checks a message payload before it reaches the bus.
func (m *Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return validationError(err)
	}
	return nil
}

// Validate checks a roster entry handed to the analysis engine.
func (r RosterEntry) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// IsValidParticipantID checks the 1-64 character id format shared by
// users, AI participants and connection handles.
func IsValidParticipantID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return participantIDRegex.MatchString(id)
}

// IsValidRole reports whether role names a known AI register.
func IsValidRole(role AIRole) bool {
	switch role {
	case RoleModerator, RoleParticipant, RoleInterviewer:
		return true
	default:
		return false
	}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%w: field %s failed %q", ErrValidation, fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
