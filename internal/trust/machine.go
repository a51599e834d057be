package trust

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/mod/semver"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/config"
	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/network"
)

const day = 24 * time.Hour

// Defaults of the grace period and revalidation interval.
const (
	DefaultGracePeriod        = 7 * day
	DefaultRevalidateInterval = day
)

// SessionStore persists the trust session. db.SessionRepository
// implements it.
type SessionStore interface {
	Load(ctx context.Context) (*models.TrustSession, error)
	Save(ctx context.Context, s *models.TrustSession) error
	Clear(ctx context.Context) error
}

// Config wires a Machine.
type Config struct {
	Store     SessionStore
	Validator Validator
	Network   network.Observer
	Clock     clockwork.Clock
	Logger    *slog.Logger

	// Mode is config.ModeLicense or config.ModeLogin.
	Mode       string
	AppVersion string
	// IdentityKey activates a device that has no cached session.
	IdentityKey        string
	GracePeriod        time.Duration
	RevalidateInterval time.Duration
}

// Machine is the trust state machine. The rest of the application asks
// only IsOperational and IsBlocked.
type Machine struct {
	store      SessionStore
	validator  Validator
	network    network.Observer
	clock      clockwork.Clock
	logger     *slog.Logger
	mode       string
	appVersion string
	activation string
	grace      time.Duration
	revalidate time.Duration

	// validating serializes calls to the authority.
	validating sync.Mutex

	mu        sync.RWMutex
	state     State
	session   *models.TrustSession
	listeners []func(Transition)
}

// New creates a Machine in the unactivated state of its mode. Call Init to
// restore the cached session.
func New(cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Network == nil {
		cfg.Network = network.NewManual(true)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.RevalidateInterval <= 0 {
		cfg.RevalidateInterval = DefaultRevalidateInterval
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeLicense
	}
	m := &Machine{
		store:      cfg.Store,
		validator:  cfg.Validator,
		network:    cfg.Network,
		clock:      cfg.Clock,
		logger:     logging.Component(cfg.Logger, "trust"),
		mode:       cfg.Mode,
		appVersion: cfg.AppVersion,
		activation: cfg.IdentityKey,
		grace:      cfg.GracePeriod,
		revalidate: cfg.RevalidateInterval,
	}
	m.state = m.unidentified()
	return m
}

// unidentified is the state of a device without an identity.
func (m *Machine) unidentified() State {
	if m.mode == config.ModeLogin {
		return StateNotLoggedIn
	}
	return StateNotActivated
}

// OnTransition registers fn to run after every state change.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Init restores the cached session. With a cached identity the machine
// starts checking, unless the cached required version is newer than the
// running app, which is a version mismatch without asking the authority.
// A cached suspended or inactive verdict is restored as is, and so is a
// version mismatch that carries no required version to compare against.
func (m *Machine) Init(ctx context.Context) (State, error) {
	s, err := m.store.Load(ctx)
	if err != nil {
		return m.State(), err
	}

	next := m.unidentified()
	switch {
	case !s.HasIdentity():
		s = nil
	case newerThan(s.RequiredVersion, m.appVersion):
		next = StateVersionMismatch
	case State(s.Status) == StateVersionMismatch && s.RequiredVersion != "":
		// The app was upgraded past the required version.
		next = StateChecking
	case State(s.Status).heldByVerdict():
		next = State(s.Status)
	default:
		next = StateChecking
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	m.transition(next)
	return next, nil
}

// newerThan reports whether required is a valid version above current.
func newerThan(required, current string) bool {
	r := config.CanonicalVersion(required)
	if !semver.IsValid(r) {
		return false
	}
	return semver.Compare(r, config.CanonicalVersion(current)) > 0
}

// Activate validates a new identity key, replacing any cached one on
// success.
func (m *Machine) Activate(ctx context.Context, identityKey string) (State, error) {
	if identityKey == "" {
		return m.State(), apperrors.New(apperrors.ErrInvalid, "identity key is required")
	}
	return m.validate(ctx, identityKey)
}

// Validate asks the authority about the cached identity and applies its
// answer. An unreachable authority moves the device into the offline
// grace period while the last success is younger than the grace period,
// and to offline_expired otherwise. The unreachable error is returned
// alongside the new state. Suspended, inactive and version_mismatch are
// kept while the authority is unreachable.
func (m *Machine) Validate(ctx context.Context) (State, error) {
	m.mu.RLock()
	key := ""
	if m.session != nil {
		key = m.session.IdentityKey
	}
	m.mu.RUnlock()
	if key == "" {
		return m.State(), apperrors.New(apperrors.ErrTrustBlocked, "no identity to validate")
	}
	return m.validate(ctx, key)
}

func (m *Machine) validate(ctx context.Context, key string) (State, error) {
	m.validating.Lock()
	defer m.validating.Unlock()

	resp, callErr := m.validator.Validate(ctx, Request{IdentityKey: key, AppVersion: m.appVersion})
	now := m.clock.Now().UTC()

	m.mu.RLock()
	prev := m.session
	m.mu.RUnlock()

	if callErr != nil {
		if ctx.Err() != nil {
			return m.State(), ctx.Err()
		}
		sameKey := prev != nil && prev.IdentityKey == key
		if cur := m.State(); cur.heldByVerdict() && sameKey {
			m.logger.Warn("trust authority unreachable", "state", string(cur), logging.Err(callErr))
			return cur, apperrors.Wrap(apperrors.ErrTrustUnreachable, "validate identity", callErr)
		}
		next := m.offline(prev, now)
		if sameKey {
			s := *prev
			s.Status = string(next)
			s.UpdatedAt = now
			if err := m.store.Save(ctx, &s); err != nil {
				return m.State(), err
			}
			m.setSession(&s)
		}
		m.logger.Warn("trust authority unreachable", "state", string(next), logging.Err(callErr))
		m.transition(next)
		return next, apperrors.Wrap(apperrors.ErrTrustUnreachable, "validate identity", callErr)
	}

	var next State
	switch resp.Status {
	case StatusValid:
		next = StateActive
		s := &models.TrustSession{
			Status:          string(next),
			IdentityKey:     key,
			Identity:        resp.Identity,
			Tier:            resp.Tier,
			LastValidation:  now,
			GracePeriod:     m.grace,
			RequiredVersion: resp.RequiredVersion,
			UpdatedAt:       now,
		}
		if err := m.store.Save(ctx, s); err != nil {
			return m.State(), err
		}
		m.setSession(s)

	case StatusDeactivated, StatusRevoked:
		// Explicit revocation has no grace period.
		next = StateDeactivated
		if err := m.store.Clear(ctx); err != nil {
			return m.State(), err
		}
		m.setSession(nil)

	case StatusVersionMismatch, StatusSuspended, StatusInactive:
		next = map[Status]State{
			StatusVersionMismatch: StateVersionMismatch,
			StatusSuspended:       StateSuspended,
			StatusInactive:        StateInactive,
		}[resp.Status]
		s := &models.TrustSession{IdentityKey: key, GracePeriod: m.grace}
		if prev != nil && prev.IdentityKey == key {
			*s = *prev
		}
		s.Status = string(next)
		s.UpdatedAt = now
		if resp.Status == StatusVersionMismatch && resp.RequiredVersion != "" {
			s.RequiredVersion = resp.RequiredVersion
		}
		if err := m.store.Save(ctx, s); err != nil {
			return m.State(), err
		}
		m.setSession(s)

	default:
		return m.State(), apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown trust status %q", resp.Status))
	}

	m.logger.Info("identity validated", "status", string(resp.Status), "state", string(next), "tier", resp.Tier)
	m.transition(next)
	return next, nil
}

// offline returns the state for an unreachable authority given the last
// session.
func (m *Machine) offline(s *models.TrustSession, now time.Time) State {
	if s.Validated() && now.Sub(s.LastValidation) < m.gracePeriod(s) {
		return StateOfflineGrace
	}
	return StateOfflineExpired
}

func (m *Machine) gracePeriod(s *models.TrustSession) time.Duration {
	if s != nil && s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return m.grace
}

func (m *Machine) setSession(s *models.TrustSession) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}

// transition moves to next and notifies listeners when the state changed.
func (m *Machine) transition(next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if prev == next {
		return
	}
	t := Transition{From: prev, To: next, At: m.clock.Now().UTC()}
	m.logger.Info("trust state changed", "from", string(prev), "to", string(next))
	for _, fn := range listeners {
		fn(t)
	}
}

// expire ends an offline grace period that ran out while offline.
func (m *Machine) expire() {
	m.mu.RLock()
	state, s := m.state, m.session
	m.mu.RUnlock()
	if state == StateOfflineGrace && m.offline(s, m.clock.Now().UTC()) == StateOfflineExpired {
		m.transition(StateOfflineExpired)
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.expire()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOperational reports whether the device may operate.
func (m *Machine) IsOperational() bool {
	return m.State().Operational()
}

// IsBlocked reports whether operation is refused.
func (m *Machine) IsBlocked() bool {
	return m.State().Blocked()
}

// DaysRemaining returns the whole days left in the offline grace period,
// rounded up, or 0 outside it.
func (m *Machine) DaysRemaining() int {
	if m.State() != StateOfflineGrace {
		return 0
	}
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()
	left := m.gracePeriod(s) - m.clock.Since(s.LastValidation)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(day)))
}

// Snapshot describes the current state.
func (m *Machine) Snapshot() Snapshot {
	state := m.State()
	snap := Snapshot{
		State:         state,
		Operational:   state.Operational(),
		Blocked:       state.Blocked(),
		DaysRemaining: m.DaysRemaining(),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.session; s != nil {
		snap.Identity = s.Identity
		snap.Tier = s.Tier
		snap.RequiredVersion = s.RequiredVersion
		if s.Validated() {
			at := s.LastValidation
			snap.LastValidation = &at
		}
	}
	return snap
}

// Run validates a cached identity at start, or activates the configured
// key on an unactivated device, then revalidates on every interval while
// active, in grace or held by a verdict, and on network regain while
// offline.
func (m *Machine) Run(ctx context.Context) error {
	sub := m.network.Subscribe()
	defer m.network.Unsubscribe(sub)

	ticker := m.clock.NewTicker(m.revalidate)
	defer ticker.Stop()

	switch st := m.State(); {
	case st == StateChecking, st.heldByVerdict():
		m.logResult(m.Validate(ctx))
	case st == StateNotActivated, st == StateNotLoggedIn:
		if m.activation != "" {
			m.logResult(m.Activate(ctx, m.activation))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			switch st := m.State(); {
			case st.Operational(), st.heldByVerdict():
				m.logResult(m.Validate(ctx))
			}
		case online, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if !online {
				continue
			}
			switch m.State() {
			case StateOfflineGrace, StateOfflineExpired:
				m.logResult(m.Validate(ctx))
			}
		}
	}
}

func (m *Machine) logResult(state State, err error) {
	switch {
	case err == nil, apperrors.Is(err, apperrors.ErrTrustUnreachable):
	default:
		m.logger.Error("trust validation failed", "state", string(state), logging.Err(err))
	}
}
