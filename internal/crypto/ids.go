package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a time-ordered UUID v7 string for users and chats.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewMessageID generates a ULID. ulid.Make is monotonic within the process,
// so message ids sort in creation order.
func NewMessageID() string {
	return ulid.Make().String()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
