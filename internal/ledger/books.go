package ledger

import "sync"

// Books partitions Books by trader address. Updates for one address are
// serialized; different addresses proceed in parallel.
type Books struct {
	mu      sync.Mutex
	entries map[string]*bookEntry
}

type bookEntry struct {
	mu   sync.Mutex
	book *Book
}

// NewBooks creates an empty partition.
func NewBooks() *Books {
	return &Books{entries: make(map[string]*bookEntry)}
}

// Do runs fn with exclusive access to the book of address.
func (b *Books) Do(address string, fn func(*Book) error) error {
	b.mu.Lock()
	entry, ok := b.entries[address]
	if !ok {
		entry = &bookEntry{book: NewBook(address)}
		b.entries[address] = entry
	}
	b.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.book)
}

// Len returns the number of tracked addresses.
func (b *Books) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
