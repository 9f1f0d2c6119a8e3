package models

import (
	"fmt"
	"strings"
)

// PrivilegeLevel is the ordered authorization class of a session.
// The zero value is the lowest level.
type PrivilegeLevel int

const (
	PrivilegeNone PrivilegeLevel = iota
	PrivilegeGuest
	PrivilegeOperator
	PrivilegeAdmin
)

var privilegeNames = map[PrivilegeLevel]string{
	PrivilegeNone:     "none",
	PrivilegeGuest:    "guest",
	PrivilegeOperator: "operator",
	PrivilegeAdmin:    "admin",
}

// String returns the config/display name of the level
func (p PrivilegeLevel) String() string {
	if name, ok := privilegeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("privilege(%d)", int(p))
}

// Valid reports whether p is one of the defined levels
func (p PrivilegeLevel) Valid() bool {
	_, ok := privilegeNames[p]
	return ok
}

// AtLeast reports whether p meets the required minimum
func (p PrivilegeLevel) AtLeast(min PrivilegeLevel) bool {
	return p.Valid() && p >= min
}

// ParsePrivilege parses a level name such as "admin"
func ParsePrivilege(name string) (PrivilegeLevel, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for level, n := range privilegeNames {
		if n == name {
			return level, nil
		}
	}
	return PrivilegeNone, fmt.Errorf("unknown privilege level: %q (expected none, guest, operator or admin)", name)
}
