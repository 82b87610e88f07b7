package modelscope

import (
	"errors"
	"sync/atomic"
)

// ErrNoAPIKeys indicates that the client was configured without credentials.
var ErrNoAPIKeys = errors.New("modelscope: at least one api key is required")

// Keyring hands out API keys round-robin so load spreads across tokens and a
// dead token does not take the whole bot down. The cursor is the only mutable
// state and advances atomically; fairness under concurrent callers is best
// effort.
type Keyring struct {
	keys   []string
	cursor atomic.Uint64
}

// NewKeyring copies the key list and validates it is non-empty.
func NewKeyring(keys []string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, ErrNoAPIKeys
	}
	return &Keyring{keys: append([]string(nil), keys...)}, nil
}

// Next returns the key at the cursor and advances it, wrapping around.
func (k *Keyring) Next() string {
	n := k.cursor.Add(1) - 1
	return k.keys[n%uint64(len(k.keys))]
}

// Len returns the number of configured keys, which is also the submission
// attempt budget.
func (k *Keyring) Len() int {
	return len(k.keys)
}
