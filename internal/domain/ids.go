package domain

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

const (
	// ProtocolVersion is the Cauce wire protocol version this hub negotiates.
	ProtocolVersion = "1.0"

	signalIDPrefix = "sig_"
	actionIDPrefix = "act_"
	idRandomLength = 12
	idRandomChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	signalIDPattern     = regexp.MustCompile(`^sig_\d+_[a-zA-Z0-9]{12}$`)
	actionIDPattern     = regexp.MustCompile(`^act_\d+_[a-zA-Z0-9]{12}$`)
	subscriptionIDRegex = regexp.MustCompile(`^sub_[0-9a-f-]{36}$`)
	sessionIDRegex      = regexp.MustCompile(`^sess_[0-9a-f-]{36}$`)
)

func randomSuffix() string {
	buf := make([]byte, idRandomLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand on a supported platform does not fail; if it ever does,
		// fall back to a fixed suffix rather than panicking in a hot path.
		for i := range buf {
			buf[i] = idRandomChars[0]
		}
	}
	out := make([]byte, idRandomLength)
	for i, b := range buf {
		out[i] = idRandomChars[int(b)%len(idRandomChars)]
	}
	return string(out)
}

// NewSignalID returns a fresh signal identifier of the form
// sig_<unix_seconds>_<12 alphanumerics>.
func NewSignalID(now time.Time) string {
	return fmt.Sprintf("%s%d_%s", signalIDPrefix, now.Unix(), randomSuffix())
}

// NewActionID returns a fresh action identifier of the form
// act_<unix_seconds>_<12 alphanumerics>.
func NewActionID(now time.Time) string {
	return fmt.Sprintf("%s%d_%s", actionIDPrefix, now.Unix(), randomSuffix())
}

// ValidSignalID reports whether id matches the signal ID syntax.
func ValidSignalID(id string) bool { return signalIDPattern.MatchString(id) }

// ValidActionID reports whether id matches the action ID syntax.
func ValidActionID(id string) bool { return actionIDPattern.MatchString(id) }

// ValidSubscriptionID reports whether id matches sub_<uuid>.
func ValidSubscriptionID(id string) bool { return subscriptionIDRegex.MatchString(id) }

// ValidSessionID reports whether id matches sess_<uuid>.
func ValidSessionID(id string) bool { return sessionIDRegex.MatchString(id) }
