package ledger

import (
	"fmt"
	"strings"
)

// Address identifies a participant: investor, manager, worker, the fund
// itself or a venue. Addresses are opaque to the ledger.
type Address string

// Asset is the handle of a fungible asset registered with the oracle.
type Asset string

const (
	// ZeroAddress is never a valid owner.
	ZeroAddress Address = ""
)

// AccountScope classifies an address for logging/storage paths
type AccountScope uint8

const (
	AccountScopeInvestor AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

const (
	systemPrefix   = "system:"
	externalPrefix = "external:"
)

// NewSystemAddress builds the address of a fund-owned account, e.g. the
// manager stake account of fund "alpha" is "system:alpha:stake".
func NewSystemAddress(fundID, name string) Address {
	return Address(fmt.Sprintf("%s%s:%s", systemPrefix, fundID, name))
}

// NewExternalAddress builds the address of an external boundary such as a venue.
func NewExternalAddress(name string) Address {
	return Address(externalPrefix + name)
}

// Scope returns the account scope encoded in the address prefix.
func (a Address) Scope() AccountScope {
	switch {
	case strings.HasPrefix(string(a), systemPrefix):
		return AccountScopeSystem
	case strings.HasPrefix(string(a), externalPrefix):
		return AccountScopeExternal
	default:
		return AccountScopeInvestor
	}
}

// AccountPath returns the string representation for storage/logging
func (a Address) AccountPath() string {
	switch a.Scope() {
	case AccountScopeSystem, AccountScopeExternal:
		return string(a)
	default:
		return "investor:" + string(a)
	}
}

func (a Address) String() string {
	return string(a)
}

func (a Asset) String() string {
	return string(a)
}
