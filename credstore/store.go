package credstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gelozr/signin/event"
	"github.com/gelozr/signin/log"
)

type Store struct {
	platform Platform
	bus      *event.Bus[Event]
	logger   log.Logger

	mu      sync.Mutex
	state   State
	pending map[string]*ResolutionError
	wg      sync.WaitGroup
}

// New wraps platform. A nil platform gives a store that is NotConfigured and
// answers every operation with a terminal failure.
func New(platform Platform, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Nop()
	}

	s := &Store{
		platform: platform,
		bus:      event.NewBus[Event](logger),
		logger:   logger.With("component", "credstore"),
		pending:  make(map[string]*ResolutionError),
	}
	if platform == nil {
		s.state = NotConfigured
	}

	return s
}

func (s *Store) Subscribe(h event.Handler[Event]) (unsubscribe func()) {
	return s.bus.Subscribe(h)
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the ids of operations waiting for resolution.
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

// Query asks the platform for saved credentials. The result arrives on the
// bus as KindFound, KindNeedsResolution or KindUnavailable.
func (s *Store) Query(ctx context.Context) {
	if !s.begin() {
		s.async(func() { s.complete(ctx, OpQuery, Credentials{}, ErrNotConfigured) })
		return
	}

	s.async(func() {
		creds, err := s.platform.Request(ctx)
		s.complete(ctx, OpQuery, creds, err)
	})
}

// Save stores creds. The result arrives on the bus as KindSaved,
// KindNeedsResolution or KindFailed.
func (s *Store) Save(ctx context.Context, creds Credentials) {
	if !s.begin() {
		s.async(func() { s.complete(ctx, OpSave, creds, ErrNotConfigured) })
		return
	}

	s.async(func() {
		err := s.platform.Save(ctx, creds)
		s.complete(ctx, OpSave, creds, err)
	})
}

// DeliverExternalCallback resumes the operation parked under requestID with
// the outcome of the platform's resolution flow.
func (s *Store) DeliverExternalCallback(ctx context.Context, requestID string, outcome Outcome) error {
	s.mu.Lock()
	rerr, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}

	s.logger.DebugContext(ctx, "resolution delivered", "request_id", requestID, "op", rerr.Op, "accepted", outcome.Accepted)

	s.async(func() {
		creds, err := s.platform.Resolve(ctx, rerr, outcome)
		s.complete(ctx, rerr.Op, creds, err)
	})
	return nil
}

// Wait blocks until every background operation has published its event.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == NotConfigured {
		return false
	}
	s.state = Querying
	return true
}

func (s *Store) async(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Store) complete(ctx context.Context, op Op, creds Credentials, err error) {
	evt := Event{Op: op}

	var rerr *ResolutionError
	switch {
	case errors.As(err, &rerr):
		id := uuid.NewString()
		evt.Kind = KindNeedsResolution
		evt.RequestID = id
		evt.Accounts = append([]string(nil), rerr.Accounts...)
		s.transition(Resolvable, func() { s.pending[id] = rerr })

	case err != nil:
		evt.Err = err
		evt.Kind = KindFailed
		if op == OpQuery {
			evt.Kind = KindUnavailable
		}
		if errors.Is(err, ErrNoCredentials) {
			s.logger.DebugContext(ctx, "no saved credentials")
		} else {
			s.logger.WarnContext(ctx, "credential store operation failed", "op", op, "error", err)
		}
		s.transition(Failed, nil)

	default:
		evt.Kind = KindSaved
		if op == OpQuery {
			evt.Kind = KindFound
			evt.Credentials = creds
		}
		s.transition(Resolved, nil)
	}

	if perr := s.bus.Publish(ctx, evt); perr != nil {
		s.logger.WarnContext(ctx, "credential store subscriber failed", "event", evt.Kind, "error", perr)
	}
}

func (s *Store) transition(to State, locked func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if locked != nil {
		locked()
	}
	if s.state != NotConfigured {
		s.state = to
	}
}
