package attendance

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chainattend/internal/queue"
	"chainattend/internal/session"
)

// Registry keeps one panel per live session.
type Registry struct {
	events      queue.Publisher
	concurrency int
	log         *zap.Logger

	mu       sync.Mutex
	teachers map[string]*Teacher
	students map[string]*Student
}

// NewRegistry creates a registry. events may be nil to skip journaling.
func NewRegistry(events queue.Publisher, concurrency int, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		events:      events,
		concurrency: concurrency,
		log:         log,
		teachers:    make(map[string]*Teacher),
		students:    make(map[string]*Student),
	}
}

// Teacher returns the teacher panel of sess, creating it on first use.
func (r *Registry) Teacher(sess *session.Session) *Teacher {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teachers[sess.ID]
	if !ok {
		t = NewTeacher(sess, r.events, r.log)
		r.teachers[sess.ID] = t
	}
	return t
}

// Student returns the student panel of sess, creating it on first use.
func (r *Registry) Student(sess *session.Session) *Student {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[sess.ID]
	if !ok {
		s = NewStudent(sess, r.concurrency, r.log)
		r.students[sess.ID] = s
	}
	return s
}

// Forget drops the panels of a session.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.teachers, sessionID)
	delete(r.students, sessionID)
	r.mu.Unlock()
}

// Len reports how many sessions hold panels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.teachers)+len(r.students))
	for id := range r.teachers {
		seen[id] = struct{}{}
	}
	for id := range r.students {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// Watch drops panel state of sessions invalidated by account changes or
// disconnects. It returns when events closes or ctx is done.
func (r *Registry) Watch(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.PreviousID != "" {
				r.Forget(evt.PreviousID)
			}
		case <-ctx.Done():
			return
		}
	}
}
