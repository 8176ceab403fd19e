// README: Session record kept in the key-value store: opaque token plus the signed-in user.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"ridesync/internal/types"
)

const (
	KeyToken = "token"
	KeyUser  = "user"
)

var ErrMalformedUser = errors.New("malformed session user")

type User struct {
	ID       types.ID `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	IsDriver bool     `json:"isDriver"`
}

type Session struct {
	Token string
	User  User
}

type State int

const (
	StateUnauthenticated State = iota
	StateRider
	StateDriver
)

func (s State) String() string {
	switch s {
	case StateRider:
		return "authenticated_rider"
	case StateDriver:
		return "authenticated_driver"
	}
	return "unauthenticated"
}

// Snapshot is what the gate last observed. Session is nil when unauthenticated.
type Snapshot struct {
	State   State
	Session *Session
}

func (s Snapshot) clone() Snapshot {
	if s.Session != nil {
		c := *s.Session
		s.Session = &c
	}
	return s
}

func (s Snapshot) equal(o Snapshot) bool {
	if s.State != o.State {
		return false
	}
	if s.Session == nil || o.Session == nil {
		return s.Session == o.Session
	}
	return *s.Session == *o.Session
}

// ParseUser decodes the stored user record. "_id" is accepted for "id" and
// isDriver may be a bool or a "true"/"false" string.
func ParseUser(raw string) (User, error) {
	var w struct {
		ID       any    `json:"id"`
		AltID    any    `json:"_id"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		IsDriver any    `json:"isDriver"`
	}
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrMalformedUser, err)
	}
	var id string
	for _, c := range []any{w.ID, w.AltID} {
		if c == nil {
			continue
		}
		s, err := cast.ToStringE(c)
		if err != nil {
			return User{}, fmt.Errorf("%w: id: %v", ErrMalformedUser, err)
		}
		if s = strings.TrimSpace(s); s != "" {
			id = s
			break
		}
	}
	if id == "" {
		return User{}, fmt.Errorf("%w: missing id", ErrMalformedUser)
	}
	isDriver, err := cast.ToBoolE(w.IsDriver)
	if err != nil {
		return User{}, fmt.Errorf("%w: isDriver: %v", ErrMalformedUser, err)
	}
	return User{ID: types.ID(id), Name: w.Name, Email: w.Email, IsDriver: isDriver}, nil
}

func (u User) encode() (string, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stateFor(s *Session) State {
	switch {
	case s == nil:
		return StateUnauthenticated
	case s.User.IsDriver:
		return StateDriver
	default:
		return StateRider
	}
}
