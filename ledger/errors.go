// Copyright 2025 Sonic Labs
// This file is part of Aida Testing Infrastructure for Sonic
//
// Aida is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Aida is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Aida. If not, see <http://www.gnu.org/licenses/>.

package ledger

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorKind is the closed set of reasons for which the ledger rejects an operation.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindPoolConfig
	KindLoanTooLarge
	KindLoanTooSmall
	KindRatioTooHigh
	KindRateTooHigh
	KindAuctionTooShort
	KindPoolTooSmall
	KindAuctionStarted
	KindAuctionNotStarted
	KindAuctionNotEnded
	KindAuctionEnded
	KindTokenMismatch
	KindUnauthorized
	KindZeroCollateral
	KindInsufficientBalance
	KindInsufficientAllowance
	KindPanic
	numKinds
)

var kindNames = [numKinds]string{
	KindUnknown:               "Unknown",
	KindPoolConfig:            "PoolConfig",
	KindLoanTooLarge:          "LoanTooLarge",
	KindLoanTooSmall:          "LoanTooSmall",
	KindRatioTooHigh:          "RatioTooHigh",
	KindRateTooHigh:           "RateTooHigh",
	KindAuctionTooShort:       "AuctionTooShort",
	KindPoolTooSmall:          "PoolTooSmall",
	KindAuctionStarted:        "AuctionStarted",
	KindAuctionNotStarted:     "AuctionNotStarted",
	KindAuctionNotEnded:       "AuctionNotEnded",
	KindAuctionEnded:          "AuctionEnded",
	KindTokenMismatch:         "TokenMismatch",
	KindUnauthorized:          "Unauthorized",
	KindZeroCollateral:        "ZeroCollateral",
	KindInsufficientBalance:   "InsufficientBalance",
	KindInsufficientAllowance: "InsufficientAllowance",
	KindPanic:                 "Panic",
}

func (k ErrorKind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(name string) (ErrorKind, bool) {
	for i, n := range kindNames {
		if n == name {
			return ErrorKind(i), true
		}
	}
	return KindUnknown, false
}

// Category groups error kinds by their origin.
type Category uint8

const (
	CategoryDomain Category = iota
	CategoryResource
	CategoryUnexpected
)

func (c Category) String() string {
	switch c {
	case CategoryDomain:
		return "domain"
	case CategoryResource:
		return "resource"
	default:
		return "unexpected"
	}
}

// Category reports whether k is a protocol rule, an asset shortage or something else.
func (k ErrorKind) Category() Category {
	switch {
	case k >= KindPoolConfig && k <= KindZeroCollateral:
		return CategoryDomain
	case k == KindInsufficientBalance || k == KindInsufficientAllowance:
		return CategoryResource
	default:
		return CategoryUnexpected
	}
}

// KindSet is a set of error kinds.
type KindSet uint32

// KindSetOf builds a set from the given kinds.
func KindSetOf(kinds ...ErrorKind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.Add(k)
	}
	return s
}

func (s KindSet) Add(k ErrorKind) KindSet {
	return s | 1<<k
}

func (s KindSet) Has(k ErrorKind) bool {
	return s&(1<<k) != 0
}

func (s KindSet) Union(o KindSet) KindSet {
	return s | o
}

func (s KindSet) IsEmpty() bool {
	return s == 0
}

// Kinds lists the members in declaration order.
func (s KindSet) Kinds() []ErrorKind {
	var res []ErrorKind
	for k := ErrorKind(0); k < numKinds; k++ {
		if s.Has(k) {
			res = append(res, k)
		}
	}
	return res
}

func (s KindSet) String() string {
	kinds := s.Kinds()
	if len(kinds) == 0 {
		return "{}"
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// RevertError is returned by the ledger when it rejected an operation.
// State is unchanged after a revert.
type RevertError struct {
	Kind   ErrorKind
	Op     string // name of the rejected operation
	Reason string // optional detail, e.g. a panic code or raw revert data
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s reverted: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s reverted: %v (%s)", e.Op, e.Kind, e.Reason)
}

// Revert creates a RevertError for op.
func Revert(op string, kind ErrorKind) *RevertError {
	return &RevertError{Kind: kind, Op: op}
}

// KindOf extracts the error kind of a ledger revert. The second result is false for
// errors that are not reverts, e.g. transport failures.
func KindOf(err error) (ErrorKind, bool) {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Kind, true
	}
	return KindUnknown, false
}
