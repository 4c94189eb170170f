// Package conversation derives the room key shared by the two participants of a direct chat.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Separator 不允许出现在用户标识中
const Separator = "-"

var ErrInvalidIdentity = errors.New("invalid participant identity")

func validate(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %q contains separator", ErrInvalidIdentity, id)
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidIdentity, id)
	}
	return nil
}

// Key returns the same key for (a, b) and (b, a).
func Key(a, b string) (string, error) {
	if err := validate(a); err != nil {
		return "", err
	}
	if err := validate(b); err != nil {
		return "", err
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, nil
}

// Participants splits a key produced by Key.
func Participants(key string) (string, string, error) {
	a, b, ok := strings.Cut(key, Separator)
	if !ok {
		return "", "", fmt.Errorf("%w: malformed conversation key %q", ErrInvalidIdentity, key)
	}
	if err := validate(a); err != nil {
		return "", "", err
	}
	if err := validate(b); err != nil {
		return "", "", err
	}
	if b < a {
		return "", "", fmt.Errorf("%w: conversation key %q is not canonical", ErrInvalidIdentity, key)
	}
	return a, b, nil
}

// Includes reports whether userID is one of the two participants of key.
func Includes(key, userID string) bool {
	a, b, err := Participants(key)
	if err != nil {
		return false
	}
	return userID == a || userID == b
}

// Peer returns the participant of key that is not userID.
func Peer(key, userID string) (string, error) {
	a, b, err := Participants(key)
	if err != nil {
		return "", err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q is not part of %q", ErrInvalidIdentity, userID, key)
}
