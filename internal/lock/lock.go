// Package lock implements advisory locks stored as objects in the locks
// directory of a sync target.
//
// Locks are cooperative. Acquire checks the existing locks, writes its own and
// verifies once more, but nothing makes the check and the write atomic, so two
// clients racing within the same window can still both believe they hold an
// exclusive lock. Lock objects are named per client, so a conditional put on
// the lock object cannot arbitrate between competitors either.
package lock

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Dir is the reserved directory of the sync target holding lock objects.
const Dir = "locks"

const fileExt = ".json"

type Type string

const (
	Shared    Type = "shared"
	Exclusive Type = "exclusive"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(s)); t {
	case Shared, Exclusive:
		return t, nil
	}
	return "", fmt.Errorf("unknown lock type %q", s)
}

type Lock struct {
	Type       Type      `json:"type"`
	ClientType string    `json:"clientType"`
	ClientID   string    `json:"clientId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Name is the object name of the lock inside Dir.
func (l Lock) Name() string {
	return FileName(l.Type, l.ClientType, l.ClientID)
}

// Active reports whether the lock is still in force at now.
func (l Lock) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// SameClient reports whether both locks were taken by one client.
func (l Lock) SameClient(o Lock) bool {
	return l.ClientType == o.ClientType && l.ClientID == o.ClientID
}

// Matches reports whether the lock name matches a glob pattern such as
// "exclusive_*" or "*_desktop_*".
func (l Lock) Matches(pattern string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	ok, err := doublestar.Match(pattern, strings.TrimSuffix(l.Name(), fileExt))
	if err != nil {
		return false, fmt.Errorf("invalid lock pattern %q: %w", pattern, err)
	}
	return ok, nil
}

func (l Lock) String() string {
	return fmt.Sprintf("%s lock of %s client %s", l.Type, l.ClientType, l.ClientID)
}

// FileName returns the deterministic object name of a lock.
func FileName(t Type, clientType, clientID string) string {
	return fmt.Sprintf("%s_%s_%s%s", t, clientType, clientID, fileExt)
}

// blocks reports whether held prevents a client from taking a lock of type want.
func blocks(want Type, clientType, clientID string, held Lock, now time.Time) bool {
	if held.SameClient(Lock{ClientType: clientType, ClientID: clientID}) {
		return false
	}
	if !held.Active(now) {
		return false
	}
	return want == Exclusive || held.Type == Exclusive
}

// precedes orders competing locks: the older acquisition wins and the name
// breaks ties, so every client reaches the same verdict.
func precedes(a, b Lock) bool {
	if !a.AcquiredAt.Equal(b.AcquiredAt) {
		return a.AcquiredAt.Before(b.AcquiredAt)
	}
	return a.Name() < b.Name()
}
