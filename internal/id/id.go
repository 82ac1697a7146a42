// Package id generates prefixed, K-sortable identifiers for persisted
// entities in the format "prefix_suffix".
package id

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

const (
	PrefixWallet       Prefix = "wal"
	PrefixTransaction  Prefix = "txn"
	PrefixSubscription Prefix = "sub"
)

// New generates a new ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// Parse validates s and checks that it carries the expected prefix.
func Parse(s string, expected Prefix) error {
	if s == "" {
		return fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("id: parse %q: %w", s, err)
	}
	if got := tid.Prefix(); got != string(expected) {
		return fmt.Errorf("id: expected prefix %q, got %q", expected, got)
	}
	return nil
}

// HasPrefix is a cheap check that s looks like an ID of the given kind.
func HasPrefix(s string, p Prefix) bool {
	return strings.HasPrefix(s, string(p)+"_")
}

// NewWalletID generates a new wallet ID.
func NewWalletID() string { return New(PrefixWallet) }

// NewTransactionID generates a new transaction ID.
func NewTransactionID() string { return New(PrefixTransaction) }

// NewSubscriptionID generates a new subscription row ID.
func NewSubscriptionID() string { return New(PrefixSubscription) }

// NewEventID generates a payment event log ID. Event rows are append-only
// and sorted by ID, so a bare ULID is enough.
func NewEventID() string { return ulid.Make().String() }
