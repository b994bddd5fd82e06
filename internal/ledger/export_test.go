package ledger

// MutateRecord edits a stored record in place, bypassing the ledger, so tests
// can simulate direct tampering with the backing store.
func (s *MemoryStore) MutateRecord(contentHash string, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byHash[contentHash]
	if !ok {
		return false
	}
	fn(r)
	return true
}
