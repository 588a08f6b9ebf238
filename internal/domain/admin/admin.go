// Package admin defines the single admin-pairing record (spec.md §3 "Admin
// pairing").
package admin

import "time"

// Pairing is the gateway's single admin-pairing record. An unpaired Pairing
// has an empty ChatID.
type Pairing struct {
	ChatID   string
	PairedAt time.Time
}

// Paired reports whether an admin principal has been bound yet.
func (p Pairing) Paired() bool {
	return p.ChatID != ""
}
