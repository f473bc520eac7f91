// Package session owns the code -> session mapping and its expiry-driven
// lifecycle. All mutations are serialized behind one mutex: creation, lookup
// and timer firing are logically a single sequential state machine.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harshalgadre/file-share/pkg/observability"
	"github.com/harshalgadre/file-share/pkg/protocol"
	"github.com/harshalgadre/file-share/pkg/staging"
)

// Notifier delivers an event to every member of a room except from.
// *hub.Hub satisfies it.
type Notifier interface {
	Broadcast(room, from string, ev protocol.Event) int
}

// Options configures a Registry.
type Options struct {
	// TTL is the session timeout (reference: 5 minutes).
	TTL time.Duration
	// Sliding resets the deadline on join and chunk activity. The reference
	// behavior is a fixed deadline set once at creation.
	Sliding bool
	// Artifacts, when set, is purged by session-code prefix on teardown.
	Artifacts *staging.Store
}

// Registry maps live session codes to their state. Operations never panic;
// invalid lookups return false and the caller translates that into a
// protocol-level event.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	opts     Options
	notify   Notifier
}

type session struct {
	code      string
	ownerID   string
	createdAt time.Time
	deadline  time.Time
	timer     *time.Timer
}

func NewRegistry(opts Options, notify Notifier) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	return &Registry{
		sessions: make(map[string]*session),
		opts:     opts,
		notify:   notify,
	}
}

// Create registers a session for code owned by ownerID. An existing session
// under the same code is torn down first (last-writer-wins, not an error).
func (r *Registry) Create(code, ownerID string) {
	r.mu.Lock()
	if old := r.sessions[code]; old != nil {
		r.removeLocked(old)
		observability.RecordSessionEvent("replaced")
		zap.L().Info("session replaced", zap.String("code", code))
	}
	s := &session{
		code:      code,
		ownerID:   ownerID,
		createdAt: time.Now(),
		deadline:  time.Now().Add(r.opts.TTL),
	}
	s.timer = time.AfterFunc(r.opts.TTL, func() { r.expire(s) })
	r.sessions[code] = s
	r.mu.Unlock()

	observability.RecordSessionEvent("created")
	observability.SessionGauge(1)
	zap.L().Info("session created", zap.String("code", code), zap.String("owner", ownerID))
}

// Join reports whether code names a live session. It has no side effect when
// the session is missing; the caller emits invalid-session. With a sliding
// policy the deadline is reset.
func (r *Registry) Join(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[code]
	if s == nil {
		return false
	}
	if r.opts.Sliding {
		r.resetTimerLocked(s)
	}
	return true
}

// Touch resets the deadline under a sliding policy; a no-op otherwise.
func (r *Registry) Touch(code string) {
	if !r.opts.Sliding {
		return
	}
	r.mu.Lock()
	if s := r.sessions[code]; s != nil {
		r.resetTimerLocked(s)
	}
	r.mu.Unlock()
}

// Exists reports whether code names a live session.
func (r *Registry) Exists(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[code] != nil
}

// Owner returns the owning connection id for code.
func (r *Registry) Owner(code string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[code]; s != nil {
		return s.ownerID, true
	}
	return "", false
}

// Teardown removes the session for code, cancelling its timer and purging
// staged artifacts. Idempotent: a no-op on an unknown code.
func (r *Registry) Teardown(code string) bool {
	r.mu.Lock()
	s := r.sessions[code]
	if s == nil {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(s)
	r.mu.Unlock()

	observability.RecordSessionEvent("torn_down")
	zap.L().Info("session torn down", zap.String("code", code))
	return true
}

// DisconnectOwner tears down every session owned by connID and returns their
// codes. Linear scan; session count is bounded by concurrent transfers.
func (r *Registry) DisconnectOwner(connID string) []string {
	r.mu.Lock()
	var owned []*session
	for _, s := range r.sessions {
		if s.ownerID == connID {
			owned = append(owned, s)
		}
	}
	for _, s := range owned {
		r.removeLocked(s)
	}
	r.mu.Unlock()

	codes := make([]string, 0, len(owned))
	for _, s := range owned {
		codes = append(codes, s.code)
		observability.RecordSessionEvent("torn_down")
		zap.L().Info("session torn down on disconnect",
			zap.String("code", s.code), zap.String("owner", connID))
	}
	return codes
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// expire fires from the session's timer. The pointer comparison guards the
// race with replacement/teardown: a stale timer for a removed or replaced
// session must not broadcast.
func (r *Registry) expire(s *session) {
	r.mu.Lock()
	cur := r.sessions[s.code]
	if cur != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.code)
	r.mu.Unlock()

	if r.notify != nil {
		r.notify.Broadcast(s.code, "", protocol.Event{Type: protocol.TypeSessionExpired, Code: s.code})
	}
	r.purgeArtifacts(s.code)
	observability.RecordSessionEvent("expired")
	observability.SessionGauge(-1)
	zap.L().Info("session expired", zap.String("code", s.code))
}

func (r *Registry) removeLocked(s *session) {
	s.timer.Stop()
	delete(r.sessions, s.code)
	r.purgeArtifacts(s.code)
	observability.SessionGauge(-1)
}

func (r *Registry) resetTimerLocked(s *session) {
	if s.timer.Stop() {
		s.deadline = time.Now().Add(r.opts.TTL)
		s.timer.Reset(r.opts.TTL)
	}
}

func (r *Registry) purgeArtifacts(code string) {
	if r.opts.Artifacts == nil {
		return
	}
	if n := r.opts.Artifacts.DeletePrefix(staging.Prefix(code)); n > 0 {
		zap.L().Debug("purged staged artifacts", zap.String("code", code), zap.Int("count", n))
	}
}
