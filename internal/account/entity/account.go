package entity

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an account. Exactly one holds at any time.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusDeleted   Status = "deleted"
)

// AllStatuses lists every known status in declaration order.
var AllStatuses = []Status{StatusActive, StatusInactive, StatusSuspended, StatusPending, StatusDeleted}

type statusInfo struct {
	description string
	canLogin    bool
}

var statusTable = map[Status]statusInfo{
	StatusActive:    {description: "Active account", canLogin: true},
	StatusInactive:  {description: "Inactive account", canLogin: true},
	StatusSuspended: {description: "Suspended account", canLogin: false},
	StatusPending:   {description: "Pending account", canLogin: false},
	StatusDeleted:   {description: "Deleted account", canLogin: false},
}

// transitions holds the allowed outgoing edges per status. deleted has none.
var transitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusDeleted},
	StatusActive:    {StatusInactive, StatusSuspended, StatusDeleted},
	StatusInactive:  {StatusActive, StatusSuspended, StatusDeleted},
	StatusSuspended: {StatusActive, StatusDeleted},
}

// ParseStatus converts free text (any case, surrounding spaces ignored) to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := statusTable[s]
	return ok
}

// Description returns a human readable label.
func (s Status) Description() string {
	return statusTable[s].description
}

// CanLogin reports whether an account in this status may authenticate.
func (s Status) CanLogin() bool {
	return statusTable[s].canLogin
}

// Live reports whether the status counts towards email uniqueness.
func (s Status) Live() bool {
	return s.Valid() && s != StatusDeleted
}

// CanTransitionTo reports whether next is a permitted edge from s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// Account is the persisted user record.
// CredentialHash, CredentialAlgo and Version never leave the process as JSON.
// Version is bumped by the store on every update and guards against writing
// back a stale copy.
type Account struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	CredentialHash string     `db:"credential_hash" json:"-"`
	CredentialAlgo string     `db:"credential_algo" json:"-"`
	Status         Status     `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastModified   *time.Time `db:"last_modified" json:"last_modified"`
	Version        int64      `db:"version" json:"-"`
}

// Touch records a mutation at now. LastModified never precedes CreatedAt.
func (a *Account) Touch(now time.Time) {
	if now.Before(a.CreatedAt) {
		now = a.CreatedAt
	}
	a.LastModified = &now
}

// Clone returns a deep copy so callers cannot alias stored state.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastModified != nil {
		lm := *a.LastModified
		c.LastModified = &lm
	}
	return &c
}

func (a *Account) String() string {
	return fmt.Sprintf("Account[id=%s, email=%s, status=%s, createdAt=%s]",
		a.ID, a.Email, a.Status, a.CreatedAt.Format(time.RFC3339))
}
