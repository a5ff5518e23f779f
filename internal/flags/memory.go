package flags

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryStore keeps flags in a concurrent map for the life of the process
type MemoryStore struct {
	flags *xsync.Map[string, Flag]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: xsync.NewMap[string, Flag]()}
}

func (s *MemoryStore) Get(_ context.Context, accountID string) (Flag, bool, error) {
	f, ok := s.flags.Load(accountID)
	return f, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, flag Flag) error {
	if err := flag.Validate(); err != nil {
		return err
	}
	s.flags.Store(flag.AccountID, flag)
	return nil
}

// Len returns the number of flagged accounts
func (s *MemoryStore) Len() int {
	return s.flags.Size()
}
