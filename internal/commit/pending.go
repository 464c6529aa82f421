// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package commit

import (
	"sync"
	"time"

	"github.com/SmartBFT-Go/commitbridge/pkg/api"
	"github.com/SmartBFT-Go/commitbridge/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"
)

// PendingRequest is a local write waiting for its commit.
type PendingRequest struct {
	ID          string
	Payload     types.Content
	Completion  types.Completion
	SubmittedAt time.Time
}

// PendingTable correlates submitted requests with their commits. A request
// leaves the table exactly once, by Take, Resolve, Sweep or Close, and only the
// caller that removed it may complete it.
type PendingTable struct {
	Log     api.Logger
	Metrics *Metrics
	// Limit bounds the number of live requests.
	Limit int64
	// RecentSize and RecentTTL bound the memory of resolved request ids.
	RecentSize int
	RecentTTL  time.Duration
	// Now and NewID default to time.Now and UUIDv7 ids.
	Now   func() time.Time
	NewID func() string

	lock      sync.Mutex
	semaphore *semaphore.Weighted
	pending   map[string]*PendingRequest
	recent    *expirable.LRU[string, time.Time]
	closed    bool
}

func (pt *PendingTable) Start() {
	if pt.Now == nil {
		pt.Now = time.Now
	}
	if pt.NewID == nil {
		pt.NewID = newRequestID
	}
	if pt.RecentSize <= 0 {
		pt.RecentSize = 4096
	}
	pt.semaphore = semaphore.NewWeighted(pt.Limit)
	pt.pending = make(map[string]*PendingRequest)
	pt.recent = expirable.NewLRU[string, time.Time](pt.RecentSize, nil, pt.RecentTTL)
}

func newRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Register stores a new request and returns its id. It fails with
// types.ErrPendingFull when the table is at its limit.
func (pt *PendingTable) Register(payload types.Content, completion types.Completion) (string, error) {
	if !pt.semaphore.TryAcquire(1) {
		pt.Metrics.CountOfRejected.Add(1)
		return "", types.ErrPendingFull
	}

	pt.lock.Lock()
	defer pt.lock.Unlock()

	if pt.closed {
		pt.semaphore.Release(1)
		return "", types.ErrStopped
	}

	id := pt.NewID()
	for _, exists := pt.pending[id]; exists; _, exists = pt.pending[id] {
		id = pt.NewID()
	}
	pt.pending[id] = &PendingRequest{
		ID:          id,
		Payload:     payload,
		Completion:  completion,
		SubmittedAt: pt.Now(),
	}
	pt.Metrics.PendingRequests.Set(float64(len(pt.pending)))
	return id, nil
}

// Take removes the request and returns it, or nil if it is not live. The caller
// owns the returned request and must complete it.
func (pt *PendingTable) Take(id string) *PendingRequest {
	pt.lock.Lock()
	defer pt.lock.Unlock()

	return pt.remove(id)
}

func (pt *PendingTable) remove(id string) *PendingRequest {
	req, exists := pt.pending[id]
	if !exists {
		return nil
	}
	delete(pt.pending, id)
	pt.recent.Add(id, pt.Now())
	pt.semaphore.Release(1)
	pt.Metrics.PendingRequests.Set(float64(len(pt.pending)))
	return req
}

// Complete invokes the completion of a request obtained from Take.
func (pt *PendingTable) Complete(req *PendingRequest, entry *types.Entry, err error) {
	if req.Completion != nil {
		req.Completion(entry, err)
	}
}

// Resolve completes the request with the outcome and removes it. It reports
// false, and does nothing, if the request is not live.
func (pt *PendingTable) Resolve(id string, entry *types.Entry, err error) bool {
	req := pt.Take(id)
	if req == nil {
		return false
	}
	pt.Complete(req, entry, err)
	return true
}

// Sweep fails every request older than maxAge with types.ErrConsensusTimeout.
// It returns the number of requests that timed out.
func (pt *PendingTable) Sweep(now time.Time, maxAge time.Duration) int {
	pt.lock.Lock()
	var expired []*PendingRequest
	for id, req := range pt.pending {
		if now.Sub(req.SubmittedAt) >= maxAge {
			expired = append(expired, pt.remove(id))
		}
	}
	pt.lock.Unlock()

	for _, req := range expired {
		pt.Log.Warnf("Request %s timed out waiting for consensus, submitted at %s", req.ID, req.SubmittedAt.Format(time.RFC3339Nano))
		pt.Metrics.CountOfTimeouts.Add(1)
		pt.Complete(req, nil, types.ErrConsensusTimeout)
	}
	return len(expired)
}

// WasResolved reports whether id left the table recently.
func (pt *PendingTable) WasResolved(id string) bool {
	return pt.recent.Contains(id)
}

// Size returns the number of live requests.
func (pt *PendingTable) Size() int {
	pt.lock.Lock()
	defer pt.lock.Unlock()
	return len(pt.pending)
}

// Close fails every live request with types.ErrStopped and rejects new ones.
func (pt *PendingTable) Close() {
	pt.lock.Lock()
	pt.closed = true
	var live []*PendingRequest
	for id := range pt.pending {
		live = append(live, pt.remove(id))
	}
	pt.lock.Unlock()

	for _, req := range live {
		pt.Complete(req, nil, types.ErrStopped)
	}
}
