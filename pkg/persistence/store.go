package persistence

import (
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    "github.com/amirimatin/go-l2coord/pkg/state"
)

// Store keeps the small amount of server state that must survive a restart:
// the mode the server last held, whether its local data is clean, the
// operation counter used as an election weight, and the consistency term.
// It sits on a raft.StableStore so either the in-memory or the bolt backend
// can serve it.
type Store struct {
    mu     sync.Mutex
    ss     raft.StableStore
    closer io.Closer
}

var (
    keyStartMode = []byte("start_mode")
    keyDBDirty   = []byte("db_dirty")
    keyOpCount   = []byte("op_count")
    keyTerm      = []byte("term")
)

const fileName = "l2state.db"

// NewInmem returns a Store that forgets everything on exit.
func NewInmem() *Store { return &Store{ss: raft.NewInmemStore()} }

// Open returns a bolt-backed Store under dir, creating dir as needed.
func Open(dir string) (*Store, error) {
    if dir == "" { return nil, errors.New("persistence: data dir required") }
    if err := os.MkdirAll(dir, 0o755); err != nil { return nil, fmt.Errorf("persistence: mkdir: %w", err) }
    b, err := raftboltdb.NewBoltStore(filepath.Join(dir, fileName))
    if err != nil { return nil, fmt.Errorf("persistence: open bolt: %w", err) }
    return &Store{ss: b, closer: b}, nil
}

// New wraps an existing StableStore.
func New(ss raft.StableStore) *Store { return &Store{ss: ss} }

func (s *Store) Close() error {
    if s.closer == nil { return nil }
    return s.closer.Close()
}

// StartMode returns the mode recorded by the previous run, or ModeInitial.
func (s *Store) StartMode() state.ServerMode {
    s.mu.Lock(); defer s.mu.Unlock()
    v, err := s.ss.Get(keyStartMode)
    if err != nil || len(v) == 0 { return state.Initial }
    return state.Convert(string(v))
}

func (s *Store) SetStartMode(m state.ServerMode) error {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.ss.Set(keyStartMode, []byte(m.String()))
}

// IsDBClean reports whether local data can be trusted. A store that never
// recorded anything is clean.
func (s *Store) IsDBClean() bool {
    s.mu.Lock(); defer s.mu.Unlock()
    v, err := s.getUint64(keyDBDirty)
    return err != nil || v == 0
}

func (s *Store) SetDBClean(clean bool) error {
    s.mu.Lock(); defer s.mu.Unlock()
    var v uint64
    if !clean { v = 1 }
    return s.ss.SetUint64(keyDBDirty, v)
}

func (s *Store) OperationCount() int64 {
    s.mu.Lock(); defer s.mu.Unlock()
    v, _ := s.getUint64(keyOpCount)
    return int64(v)
}

// IncrementOperationCount bumps and returns the persisted counter.
func (s *Store) IncrementOperationCount() (int64, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    v, _ := s.getUint64(keyOpCount)
    v++
    if err := s.ss.SetUint64(keyOpCount, v); err != nil { return 0, err }
    return int64(v), nil
}

func (s *Store) LoadTerm() (int64, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    v, err := s.getUint64(keyTerm)
    if isNotFound(err) { return 0, nil }
    return int64(v), err
}

func (s *Store) SaveTerm(term int64) error {
    if term < 0 { return fmt.Errorf("persistence: negative term %d", term) }
    s.mu.Lock(); defer s.mu.Unlock()
    return s.ss.SetUint64(keyTerm, uint64(term))
}

func (s *Store) getUint64(key []byte) (uint64, error) {
    v, err := s.ss.GetUint64(key)
    if err != nil { return 0, err }
    return v, nil
}

// bolt reports missing keys with ErrKeyNotFound; the in-memory store returns
// zero values for uint64 keys and a plain "not found" error for byte keys.
func isNotFound(err error) bool {
    return err != nil && (errors.Is(err, raftboltdb.ErrKeyNotFound) || err.Error() == "not found")
}
