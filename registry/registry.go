// Package registry maps content hashes to compiled programs so that
// suspended instances can be serialized, shipped elsewhere, and resumed
// against a process that registered the same program. The hash covers
// the program's name, version, step count and source fingerprint, so a
// recompiled program with different steps never resumes a stale
// suspension.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/strandio/strand"
	"github.com/strandio/strand/engine"
	"github.com/strandio/strand/sched"
)

// Hash computes the content hash identifying a program.
func Hash(p *engine.Program) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s", p.Name, p.Version, p.NumSteps(), p.Source)
	return hex.EncodeToString(h.Sum(nil))
}

// Registry is an in-memory program store keyed by content hash.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]*engine.Program
}

// New returns a new empty Registry.
func New() *Registry {
	return &Registry{programs: make(map[string]*engine.Program)}
}

// Register stores the program under its content hash and returns the
// hash. Registering the same program twice is a no-op yielding the same
// hash.
func (r *Registry) Register(p *engine.Program) string {
	hash := Hash(p)
	r.mu.Lock()
	r.programs[hash] = p
	r.mu.Unlock()
	return hash
}

// Lookup returns the program registered under hash, or
// strand.ErrProgramNotFound.
func (r *Registry) Lookup(hash string) (*engine.Program, error) {
	r.mu.RLock()
	p, ok := r.programs[hash]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", strand.ErrProgramNotFound, hash)
	}
	return p, nil
}

// Len returns the number of registered programs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.programs)
}

// Suspend captures a resumable snapshot of an instance at its current
// step boundary. The instance's program must be registered for the
// suspension to resolve on Resume.
func (r *Registry) Suspend(in *engine.Instance) *Suspension {
	return &Suspension{
		ProgramHash: Hash(in.Program()),
		Step:        in.Step(),
		Vars:        in.Vars(),
	}
}

// Resume reconstructs an instance from a suspension and re-enters it at
// the suspended step on the given loop. The terminal continuation fires
// exactly once with the workflow's outcome. Returns
// strand.ErrProgramNotFound if the suspension's program hash is not
// registered.
func (r *Registry) Resume(loop *sched.Loop, s *Suspension, done strand.Continuation, opts ...engine.Option) (*engine.Instance, error) {
	p, err := r.Lookup(s.ProgramHash)
	if err != nil {
		return nil, err
	}
	in := engine.New(loop, p, opts...)
	in.ResumeAt(s.Step, s.Vars, done)
	return in, nil
}
