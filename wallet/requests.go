package wallet

import (
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// PuzzleSolutionKey identifies one outstanding puzzle-solution request.
// An inbound RespondPuzzleSolution resolves the waiter whose key matches.
type PuzzleSolutionKey struct {
	CoinName chainhash.Hash
	Height   uint32
}

// GeneratorKey identifies one outstanding block-generator request.
type GeneratorKey struct {
	HeaderHash chainhash.Hash
	Height     uint32
}

// GeneratorResponse resolves a pending generator request.
type GeneratorResponse struct {
	HeaderHash chainhash.Hash
	Height     uint32
	Generator  []byte
}

// RequestRegistry is a typed completion map for in-flight peer requests,
// keyed on each request's identifying tuple: waiters register a key,
// inbound responses resolve the matching waiters, and unmatched responses
// are simply dropped.
type RequestRegistry struct {
	mu        sync.Mutex
	puzzle    map[PuzzleSolutionKey][]chan PuzzleSolutionResponse
	generator map[GeneratorKey][]chan GeneratorResponse
}

// NewRequestRegistry returns an empty RequestRegistry.
func NewRequestRegistry() *RequestRegistry {
	return &RequestRegistry{
		puzzle:    make(map[PuzzleSolutionKey][]chan PuzzleSolutionResponse),
		generator: make(map[GeneratorKey][]chan GeneratorResponse),
	}
}

// ExpectPuzzleSolution registers interest in the puzzle solution identified
// by key and returns a buffered channel the response will be delivered on.
// Callers that give up must call CancelPuzzleSolution with the same channel
// to avoid leaking the registration.
func (r *RequestRegistry) ExpectPuzzleSolution(key PuzzleSolutionKey) <-chan PuzzleSolutionResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan PuzzleSolutionResponse, 1)
	r.puzzle[key] = append(r.puzzle[key], ch)
	return ch
}

// CancelPuzzleSolution deregisters a waiter previously registered with
// ExpectPuzzleSolution. No-op if the waiter was already resolved.
func (r *RequestRegistry) CancelPuzzleSolution(key PuzzleSolutionKey, ch <-chan PuzzleSolutionResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiters := r.puzzle[key]
	for i, w := range waiters {
		if w == ch {
			r.puzzle[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(r.puzzle[key]) == 0 {
		delete(r.puzzle, key)
	}
}

// ResolvePuzzleSolution delivers resp to every waiter registered for its
// (coin name, height) tuple and clears the registration. It reports whether
// any waiter was resolved.
func (r *RequestRegistry) ResolvePuzzleSolution(resp PuzzleSolutionResponse) bool {
	key := PuzzleSolutionKey{CoinName: resp.CoinName, Height: resp.Height}
	r.mu.Lock()
	waiters := r.puzzle[key]
	delete(r.puzzle, key)
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- resp
	}
	return len(waiters) > 0
}

// ExpectGenerator registers interest in the block generator identified by
// key, mirroring ExpectPuzzleSolution.
func (r *RequestRegistry) ExpectGenerator(key GeneratorKey) <-chan GeneratorResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan GeneratorResponse, 1)
	r.generator[key] = append(r.generator[key], ch)
	return ch
}

// CancelGenerator deregisters a generator waiter.
func (r *RequestRegistry) CancelGenerator(key GeneratorKey, ch <-chan GeneratorResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiters := r.generator[key]
	for i, w := range waiters {
		if w == ch {
			r.generator[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(r.generator[key]) == 0 {
		delete(r.generator, key)
	}
}

// ResolveGenerator delivers resp to every waiter registered for its
// (header hash, height) tuple, reporting whether any waiter was resolved.
func (r *RequestRegistry) ResolveGenerator(resp GeneratorResponse) bool {
	key := GeneratorKey{HeaderHash: resp.HeaderHash, Height: resp.Height}
	r.mu.Lock()
	waiters := r.generator[key]
	delete(r.generator, key)
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- resp
	}
	return len(waiters) > 0
}

// PendingCount returns the number of outstanding registrations of both
// kinds, for tests and metrics.
func (r *RequestRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.puzzle {
		n += len(w)
	}
	for _, w := range r.generator {
		n += len(w)
	}
	return n
}
