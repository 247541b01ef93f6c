package auth

import "time"

// Identity is stored in the request context after authentication.
type Identity struct {
	Name          string
	KeyPrefix     string
	Authenticated time.Time
}
