package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/progress"
	"github.com/ChuLiYu/trip-planner/internal/scheduler"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

var (
	// ErrUnknownRequest 表示註冊表中找不到該請求
	ErrUnknownRequest = errors.New("unknown request")
	// ErrDuplicateRequest 表示同一個請求 ID 已在執行
	ErrDuplicateRequest = errors.New("request already in progress")
	// ErrFinished 表示請求已送出 Final 快照
	ErrFinished = errors.New("request already finished")
)

// DefaultRetention is how long a finished request stays readable.
const DefaultRetention = 5 * time.Minute

// RequestRecorder receives request-level metrics.
type RequestRecorder interface {
	RecordAccepted()
	RecordRejected(reason string)
	SetInFlight(n int)
}

type noopRequestRecorder struct{}

func (noopRequestRecorder) RecordAccepted()       {}
func (noopRequestRecorder) RecordRejected(string) {}
func (noopRequestRecorder) SetInFlight(int)       {}

// Ticket identifies an accepted request.
type Ticket struct {
	RequestID  types.RequestID
	Channel    *progress.Channel
	AcceptedAt time.Time
}

type finished struct {
	channel *progress.Channel
	at      time.Time
}

// entry is one registry slot. channel is nil while the request is reserved
// but not yet scheduled; cancelled records a Cancel that arrived meanwhile.
type entry struct {
	coord     *Coordinator
	channel   *progress.Channel
	cancelled bool
}

// Service owns the registry of in-flight requests, one Coordinator each.
// The registry map is the only state shared across requests.
type Service struct {
	sched     *scheduler.Scheduler
	cfg       Config
	recorder  RequestRecorder
	retention time.Duration

	mu     sync.Mutex
	active map[types.RequestID]*entry
	recent map[types.RequestID]finished
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRecorder sets the request metrics recorder.
func WithRecorder(r RequestRecorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithRetention sets how long finished requests stay readable through
// Lookup. Zero drops them as soon as the Final snapshot is emitted.
func WithRetention(d time.Duration) ServiceOption {
	return func(s *Service) { s.retention = d }
}

// NewService creates a service.
func NewService(sched *scheduler.Scheduler, cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		sched:     sched,
		cfg:       cfg,
		recorder:  noopRequestRecorder{},
		retention: DefaultRetention,
		active:    make(map[types.RequestID]*entry),
		recent:    make(map[types.RequestID]finished),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle accepts req and starts it. The request is not bound to ctx's
// cancellation: it runs until its Final snapshot, or until Cancel.
//
// The request ID is reserved in the registry before validation, so two
// requests carrying the same ID never both run.
func (s *Service) Handle(ctx context.Context, req types.Request) (Ticket, error) {
	if req.ID == "" {
		req.ID = types.NewRequestID()
	}
	id := req.ID
	e := &entry{coord: New(s.sched, s.cfg)}

	s.mu.Lock()
	if _, dup := s.active[id]; dup {
		s.mu.Unlock()
		s.recorder.RecordRejected("duplicate")
		return Ticket{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}
	s.purgeLocked(time.Now())
	s.active[id] = e
	s.mu.Unlock()

	ch, err := e.coord.Handle(context.WithoutCancel(ctx), req)
	if err != nil {
		s.mu.Lock()
		if s.active[id] == e {
			delete(s.active, id)
		}
		s.mu.Unlock()

		var verr *types.ValidationError
		if errors.As(err, &verr) {
			s.recorder.RecordRejected("invalid")
		} else {
			s.recorder.RecordRejected("error")
		}
		return Ticket{}, err
	}

	s.mu.Lock()
	e.channel = ch
	cancelled := e.cancelled
	s.recorder.SetInFlight(len(s.active))
	s.mu.Unlock()
	s.recorder.RecordAccepted()

	if cancelled {
		e.coord.Cancel()
	}
	go s.release(id, e)

	return Ticket{RequestID: id, Channel: ch, AcceptedAt: time.Now()}, nil
}

// release drops the entry from the registry once the request is final.
func (s *Service) release(id types.RequestID, e *entry) {
	<-e.channel.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[id] == e {
		delete(s.active, id)
	}
	if s.retention > 0 {
		s.recent[id] = finished{channel: e.channel, at: time.Now()}
	}
	s.recorder.SetInFlight(len(s.active))
}

// Cancel cancels an in-flight request. A request still being validated is
// cancelled as soon as it is scheduled.
func (s *Service) Cancel(id types.RequestID) error {
	s.mu.Lock()
	e, ok := s.active[id]
	_, done := s.recent[id]
	var coord *Coordinator
	if ok {
		if e.channel == nil {
			e.cancelled = true
		} else {
			coord = e.coord
		}
	}
	s.mu.Unlock()

	switch {
	case ok:
		if coord != nil {
			coord.Cancel()
		}
		return nil
	case done:
		return fmt.Errorf("%w: %s", ErrFinished, id)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
}

// Lookup returns the progress channel of an in-flight or recently finished
// request. A reserved request becomes visible once it is scheduled.
func (s *Service) Lookup(id types.RequestID) (*progress.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.active[id]; ok && e.channel != nil {
		return e.channel, nil
	}
	s.purgeLocked(time.Now())
	if f, ok := s.recent[id]; ok {
		return f.channel, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
}

// Active returns the number of in-flight requests.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// CancelAll cancels every in-flight request, used on shutdown.
func (s *Service) CancelAll() {
	s.mu.Lock()
	coords := make([]*Coordinator, 0, len(s.active))
	for _, e := range s.active {
		if e.channel == nil {
			e.cancelled = true
			continue
		}
		coords = append(coords, e.coord)
	}
	s.mu.Unlock()

	for _, c := range coords {
		c.Cancel()
	}
}

func (s *Service) purgeLocked(now time.Time) {
	for id, f := range s.recent {
		if now.Sub(f.at) > s.retention {
			delete(s.recent, id)
		}
	}
}
