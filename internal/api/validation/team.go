package validation

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxNameLength = 32

// ValidateName checks a team or home name.
func ValidateName(field, name string) []FieldError {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return []FieldError{{Field: field, Message: field + " is required"}}
	case utf8.RuneCountInString(name) > maxNameLength:
		return []FieldError{{Field: field, Message: field + " must be at most 32 characters"}}
	case strings.ContainsAny(name, "\r\n"):
		return []FieldError{{Field: field, Message: field + " must be a single line"}}
	}
	return nil
}

// ValidatePlayerID checks a player or team id field.
func ValidatePlayerID(field, id string) []FieldError {
	if id == "" {
		return []FieldError{{Field: field, Message: field + " is required"}}
	}
	if _, err := uuid.Parse(id); err != nil {
		return []FieldError{{Field: field, Message: field + " must be a valid UUID"}}
	}
	return nil
}

// UpdateTeamRequest mirrors the fields of a team settings update.
type UpdateTeamRequest struct {
	Name         *string
	FriendlyFire *bool
}

// ValidateUpdateTeamRequest validates a team settings update.
func ValidateUpdateTeamRequest(req UpdateTeamRequest) []FieldError {
	if req.Name == nil && req.FriendlyFire == nil {
		return []FieldError{{Field: "body", Message: "at least one of name or friendlyFire is required"}}
	}
	if req.Name != nil {
		return ValidateName("name", *req.Name)
	}
	return nil
}

// LocationRequest mirrors the fields of a home location.
type LocationRequest struct {
	World string
	X     float64
	Y     float64
	Z     float64
	Yaw   float64
	Pitch float64
}

// ValidateLocation validates a home location.
func ValidateLocation(req LocationRequest) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(req.World) == "" {
		errs = append(errs, FieldError{Field: "world", Message: "world is required"})
	}
	for _, c := range []struct {
		field string
		v     float64
	}{{"x", req.X}, {"y", req.Y}, {"z", req.Z}, {"yaw", req.Yaw}, {"pitch", req.Pitch}} {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			errs = append(errs, FieldError{Field: c.field, Message: c.field + " must be a finite number"})
		}
	}
	if req.Pitch < -90 || req.Pitch > 90 {
		errs = append(errs, FieldError{Field: "pitch", Message: "pitch must be between -90 and 90"})
	}

	return errs
}

// ValidateChatMessage checks a chat line.
func ValidateChatMessage(msg string) []FieldError {
	if strings.TrimSpace(msg) == "" {
		return []FieldError{{Field: "message", Message: "message is required"}}
	}
	if utf8.RuneCountInString(msg) > 256 {
		return []FieldError{{Field: "message", Message: "message must be at most 256 characters"}}
	}
	return nil
}
