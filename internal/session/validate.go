package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.chatsync/sessions and path
// segments of the control socket, so the charset stays deliberately narrow.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name can serve as a session directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 of a-z, 0-9, '-' or '_'", name)
	}
	return nil
}
