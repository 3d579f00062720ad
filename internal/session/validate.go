package session

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxNameLen bounds session names so socket paths stay under the unix limit.
const MaxNameLen = 32

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

// Names start with a letter or digit so they never parse as a flag.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks that name can be used as a session directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w %q: longer than %d characters", ErrInvalidName, name, MaxNameLen)
	case !nameRegexp.MatchString(name):
		return fmt.Errorf("%w %q: use lowercase letters, digits, '-' and '_', starting with a letter or digit", ErrInvalidName, name)
	}
	return nil
}
