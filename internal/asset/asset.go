// Package asset handles tradable asset symbols: validation, parsing of the
// configured asset list, and the ordered universe every session trades.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches an upper-case symbol of 2 to 10 characters that
// starts with a letter. Examples: GOLD, RICE, BRENT2.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

var (
	ErrInvalidSymbol   = errors.New("asset: invalid symbol")
	ErrDuplicateSymbol = errors.New("asset: duplicate symbol")
	ErrEmptyUniverse   = errors.New("asset: at least one symbol is required")
)

// ValidateSymbol checks a single symbol against the symbol format.
func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: %q (expected 2-10 upper-case letters/digits)", ErrInvalidSymbol, symbol)
	}
	return nil
}

// Universe is an ordered, duplicate-free set of asset symbols. The order is
// the iteration order used by the price simulator, so it must be stable for
// a session's random path to be reproducible.
type Universe struct {
	symbols []string
	index   map[string]int
}

// NewUniverse validates symbols and builds a Universe in the given order.
func NewUniverse(symbols []string) (Universe, error) {
	if len(symbols) == 0 {
		return Universe{}, ErrEmptyUniverse
	}
	u := Universe{
		symbols: make([]string, 0, len(symbols)),
		index:   make(map[string]int, len(symbols)),
	}
	for _, s := range symbols {
		if err := ValidateSymbol(s); err != nil {
			return Universe{}, err
		}
		if _, dup := u.index[s]; dup {
			return Universe{}, fmt.Errorf("%w: %s", ErrDuplicateSymbol, s)
		}
		u.index[s] = len(u.symbols)
		u.symbols = append(u.symbols, s)
	}
	return u, nil
}

// ParseList parses a comma-separated list such as "GOLD, oil,RICE".
// Whitespace is trimmed and symbols are upper-cased; empty items are skipped.
func ParseList(list string) (Universe, error) {
	var symbols []string
	for _, part := range strings.Split(list, ",") {
		s := strings.ToUpper(strings.TrimSpace(part))
		if s == "" {
			continue
		}
		symbols = append(symbols, s)
	}
	return NewUniverse(symbols)
}

// Symbols returns a copy of the symbols in universe order.
func (u Universe) Symbols() []string {
	out := make([]string, len(u.symbols))
	copy(out, u.symbols)
	return out
}

// Contains reports whether symbol is part of the universe.
func (u Universe) Contains(symbol string) bool {
	_, ok := u.index[symbol]
	return ok
}

// Len returns the number of symbols.
func (u Universe) Len() int {
	return len(u.symbols)
}

// String renders the universe as a comma-separated list.
func (u Universe) String() string {
	return strings.Join(u.symbols, ",")
}
