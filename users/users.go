package users

import (
	"encoding/json"
	"maps"
	"strings"
)

// User is the signed-in account as reported by the API. Fields the client
// does not model are kept in Extra.
type User struct {
	ID                  string         `json:"id,omitempty"`
	Email               string         `json:"email,omitempty"`
	Name                string         `json:"name,omitempty"`
	FullName            string         `json:"fullName,omitempty"`
	Role                string         `json:"role,omitempty"`
	OnboardingCompleted bool           `json:"onboardingCompleted,omitempty"`
	Extra               map[string]any `json:"-"`
}

var knownFields = map[string]bool{
	"id": true, "email": true, "name": true, "fullName": true, "role": true, "onboardingCompleted": true,
}

func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if knownFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}

	*u = User(p)
	return nil
}

func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	known, err := json.Marshal(plain(u))
	if err != nil || len(u.Extra) == 0 {
		return known, err
	}

	all := make(map[string]any, len(u.Extra)+len(knownFields))
	maps.Copy(all, u.Extra)
	var fields map[string]any
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	maps.Copy(all, fields)
	return json.Marshal(all)
}

// Clone returns a copy that shares nothing mutable with u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Extra != nil {
		// Round trip so nested maps and slices are copied too.
		data, err := json.Marshal(u.Extra)
		if err == nil {
			var extra map[string]any
			if json.Unmarshal(data, &extra) == nil {
				c.Extra = extra
				return &c
			}
		}
		c.Extra = maps.Clone(u.Extra)
	}
	return &c
}

// DisplayName prefers the full name, then the name, then the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	for _, s := range []string{u.FullName, u.Name, u.Email} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return u.ID
}

func (u *User) HasRole(role string) bool {
	return u != nil && strings.EqualFold(u.Role, role)
}
