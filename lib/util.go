package lib

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"
)

// HexBytes is a byte slice that marshals to JSON as a hexadecimal string
type HexBytes []byte

// String() returns the hexadecimal representation
func (x HexBytes) String() string { return BytesToString(x) }

// MarshalJSON() satisfies the json.Marshaler interface
func (x HexBytes) MarshalJSON() ([]byte, error) { return json.Marshal(x.String()) }

// UnmarshalJSON() satisfies the json.Unmarshaler interface
func (x *HexBytes) UnmarshalJSON(bz []byte) (err error) {
	var s string
	if err = json.Unmarshal(bz, &s); err != nil {
		return
	}
	b, e := StringToBytes(s)
	if e != nil {
		return e
	}
	*x = b
	return
}

// BytesToString() converts a byte slice to a hexadecimal string
func BytesToString(b []byte) string {
	return hex.EncodeToString(b)
}

// StringToBytes() converts a hexadecimal string back into a byte slice
func StringToBytes(s string) ([]byte, ErrorI) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrStringToBytes(err)
	}
	return b, nil
}

// BytesToTruncatedString() converts a byte slice to a truncated hexadecimal string
func BytesToTruncatedString(b []byte) string {
	if len(b) > 10 {
		return hex.EncodeToString(b[:10])
	}
	return hex.EncodeToString(b)
}

// NewTimer() creates a 0 value initialized instance of a timer
func NewTimer() *time.Timer {
	t := time.NewTimer(0)
	<-t.C
	return t
}

// ResetTimer() stops the existing timer, and resets with the new duration
func ResetTimer(t *time.Timer, d time.Duration) {
	StopTimer(t)
	t.Reset(d)
}

// StopTimer() stops the existing timer, draining the channel if needed
func StopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		for len(t.C) > 0 {
			<-t.C
		}
	}
}

// CatchPanic() catches any panic in the function call or child function calls
func CatchPanic(l LoggerI) {
	if r := recover(); r != nil {
		l.Errorf(string(debug.Stack()))
	}
}

// DeDuplicator is a generic structure that serves as a simple anti-duplication check
type DeDuplicator[T comparable] struct {
	m map[T]struct{}
}

// NewDeDuplicator() constructs a new object reference to a DeDuplicator
func NewDeDuplicator[T comparable]() *DeDuplicator[T] {
	return &DeDuplicator[T]{m: make(map[T]struct{})}
}

// Found() checks for an existing entry and adds it to the map if it's not present
func (d *DeDuplicator[T]) Found(k T) bool {
	if _, exists := d.m[k]; exists {
		return true
	}
	d.m[k] = struct{}{}
	return false
}

// DefaultDataDirPath() returns the default data directory: $HOME/.aura/
func DefaultDataDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aura"
	}
	return filepath.Join(home, ".aura")
}
