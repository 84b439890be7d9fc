package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultRetention is how many recent entries a ChainLogger keeps in memory.
const DefaultRetention = 1000

// LogEntry represents a single audit log entry
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature,omitempty"`
}

// Clock supplies entry timestamps.
type Clock interface {
	Now() time.Time
}

// ChainLogger provides a tamper-proof logging mechanism using hash chaining.
// Entries are optionally streamed to a sink as JSON lines.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sink         io.Writer
	clock        Clock
	retention    int
	entries      []*LogEntry
	logger       *slog.Logger
}

// Option configures a ChainLogger.
type Option func(*ChainLogger)

func WithClock(c Clock) Option {
	return func(l *ChainLogger) { l.clock = c }
}

// WithRetention bounds the in-memory window returned by Entries.
func WithRetention(n int) Option {
	return func(l *ChainLogger) { l.retention = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *ChainLogger) { l.logger = logger }
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewChainLogger creates a new ChainLogger initialized with a zero hash.
// sink may be nil.
func NewChainLogger(sink io.Writer, opts ...Option) *ChainLogger {
	l := &ChainLogger{
		previousHash: strings.Repeat("0", 64),
		sink:         sink,
		clock:        systemClock{},
		retention:    DefaultRetention,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds a new log entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    c.clock.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload)
	c.previousHash = entry.Hash

	c.entries = append(c.entries, entry)
	if c.retention > 0 && len(c.entries) > c.retention {
		c.entries = append([]*LogEntry(nil), c.entries[len(c.entries)-c.retention:]...)
	}

	if c.sink != nil {
		line, err := json.Marshal(entry)
		if err == nil {
			_, err = c.sink.Write(append(line, '\n'))
		}
		if err != nil {
			c.logger.Error("failed to write audit entry", "hash", entry.Hash, "error", err)
		}
	}
	return entry
}

// Entries returns a copy of the retained entries, oldest first.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LogEntry, len(c.entries))
	for i, e := range c.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Head is the hash of the last appended entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

func entryHash(prev, timestamp, payload string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", prev, timestamp, payload)))
	return hex.EncodeToString(hash[:])
}

// VerifyChain checks if a slice of entries forms a valid hash chain.
// The first entry's PreviousHash is trusted, so a retained window verifies on its own.
func VerifyChain(entries []*LogEntry) bool {
	for i, entry := range entries {
		prevHash := entry.PreviousHash
		if i > 0 {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash {
				return false
			}
		}
		if entryHash(prevHash, entry.Timestamp, entry.Payload) != entry.Hash {
			return false
		}
	}
	return true
}
