package recipient

import "github.com/mywio/im-notify/pkg/event"

// Recipient is an address with the identity it was resolved from, if any.
// Recipients are equal when their addresses are equal.
type Recipient struct {
	Address  string
	Identity *event.Identity
}

// Set keeps recipients unique by address in insertion order.
type Set struct {
	items []Recipient
	index map[string]struct{}
}

func NewSet() *Set {
	return &Set{index: map[string]struct{}{}}
}

// Add inserts r unless a recipient with the same address is present.
func (s *Set) Add(r Recipient) bool {
	if r.Address == "" {
		return false
	}
	if _, ok := s.index[r.Address]; ok {
		return false
	}
	s.index[r.Address] = struct{}{}
	s.items = append(s.items, r)
	return true
}

func (s *Set) Contains(address string) bool {
	_, ok := s.index[address]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All returns a copy of the recipients.
func (s *Set) All() []Recipient {
	if s == nil {
		return nil
	}
	return append([]Recipient(nil), s.items...)
}

// Addresses lists the addresses in order.
func (s *Set) Addresses() []string {
	out := make([]string, 0, s.Len())
	for _, r := range s.All() {
		out = append(out, r.Address)
	}
	return out
}
