package recycler

import (
	"context"
	"time"
)

// evictAfterSnapshot evicts device like Evict, running hook once the builds
// to drain have been captured
func (s *Store) evictAfterSnapshot(ctx context.Context, device DeviceID, hook func()) (int, error) {
	start := time.Now()
	snap := s.snapshot(device)
	hook()
	return s.drain(ctx, snap, start)
}
