// Package item is the item master for rentable goods plus the outlet
// registry. Items carry a bounded lifecycle and an opening-balance latch;
// quantities themselves live in the ledger.
package item

import (
	"time"
)

// Status is the item lifecycle state.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusActive       Status = "active"
	StatusDiscontinued Status = "discontinued"
	StatusArchived     Status = "archived"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusDiscontinued, StatusArchived:
		return true
	}
	return false
}

// transitions bounds the lifecycle. Archived is terminal; discontinued
// items can be reactivated while their stock is still tracked.
var transitions = map[Status][]Status{
	StatusDraft:        {StatusActive},
	StatusActive:       {StatusDiscontinued},
	StatusDiscontinued: {StatusActive, StatusArchived},
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Item is one rentable good tracked per outlet.
type Item struct {
	ID                      int64     `json:"id"`
	Code                    string    `json:"code"`
	Name                    string    `json:"name"`
	Category                string    `json:"category"`
	Unit                    string    `json:"unit"`
	OutletID                int64     `json:"outlet_id"`
	Status                  Status    `json:"status"`
	OpeningBalance          int64     `json:"opening_balance"`
	OpeningBalanceConfirmed bool      `json:"opening_balance_confirmed"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// Outlet is one physical location stock is tracked at.
type Outlet struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	City      string    `json:"city,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
