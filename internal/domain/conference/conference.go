// Package conference provides deterministic two-party room identifiers.
package conference

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Separator joins the two participant identifiers into a room id.
const Separator = "::"

// ErrMalformedRoomID is returned when a room id cannot be decomposed
// into exactly two participant identifiers, or when a participant
// identifier would make the id ambiguous.
var ErrMalformedRoomID = errors.New("malformed room id")

// RoomID derives the shared room identifier for two sessions. The
// identifiers are sorted before joining so both sides compute the same
// id regardless of order.
func RoomID(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", errors.Wrap(ErrMalformedRoomID, "empty participant id")
	}
	if strings.Contains(a, Separator) || strings.Contains(b, Separator) {
		return "", errors.Wrapf(ErrMalformedRoomID, "participant id contains %q", Separator)
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, nil
}

// Other returns the partner identifier for ownID within roomID.
func Other(ownID, roomID string) (string, error) {
	parts := strings.Split(roomID, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", errors.Wrapf(ErrMalformedRoomID, "room id %q", roomID)
	}
	switch ownID {
	case parts[0]:
		return parts[1], nil
	case parts[1]:
		return parts[0], nil
	}
	return "", errors.Wrapf(ErrMalformedRoomID, "session %s is not a member of room %q", ownID, roomID)
}
