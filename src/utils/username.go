package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// Username validation rules
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

var usernameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// reserved names are used by the system or by the audit log
var reservedUsernames = map[string]bool{
	"system":    true,
	"anonymous": true,
	"none":      true,
}

// ValidateUsername checks an admin account name:
// 3 to 32 characters, lowercase letters, digits, underscore and hyphen,
// starting with a letter and not ending with underscore or hyphen.
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return fmt.Errorf("username must be at least %d characters long", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("username must be no more than %d characters long", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("username must start with a lowercase letter and contain only lowercase letters, numbers, underscores and hyphens")
	}
	if strings.HasSuffix(username, "_") || strings.HasSuffix(username, "-") {
		return fmt.Errorf("username cannot end with underscore or hyphen")
	}
	if reservedUsernames[username] {
		return fmt.Errorf("username %q is reserved", username)
	}
	return nil
}

// NormalizeUsername converts username to lowercase and trims spaces
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
