package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
)

var (
	ErrNotFound             = errors.New("session not found")
	ErrNotFoundOrWrongState = errors.New("session not found or not in the required state")
	ErrNotActive            = errors.New("session is not active")
	ErrClosed               = errors.New("session is closed")
	ErrFull                 = errors.New("session is full")
	ErrNotJoined            = errors.New("you have not joined this session")
)

// DeviceLimitError is returned when a join is refused by the admission controller.
type DeviceLimitError struct {
	Decision device.Decision
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("device limit exceeded (%d/%d)", e.Decision.Current, e.Decision.Limit)
}

type (
	Repository interface {
		Create(ctx context.Context, s Session) (Session, error)
		Get(ctx context.Context, id string) (Session, error)
		// Transition moves the session from `from` to `to` in a single conditional update on (id, teacherID, from).
		// It returns ErrNotFoundOrWrongState when no such session exists.
		Transition(ctx context.Context, id, teacherID string, from, to Status, tr Transition) (Session, error)
		// SaveParticipants replaces the roster of a non-terminal session, or of any session if anyStatus is set.
		SaveParticipants(ctx context.Context, id string, participants []Participant, at time.Time, anyStatus bool) error
		// AppendChatMessage appends msg to the transcript of a non-terminal session.
		AppendChatMessage(ctx context.Context, id string, msg ChatMessage) error
	}

	Admitter interface {
		ValidateForSession(ctx context.Context, p core.Principal, req device.ValidateRequest) device.Decision
	}

	// Rooms allocates the media routing room of active sessions.
	Rooms interface {
		EnsureRoom(ctx context.Context, roomID, sessionID string) error
		CloseRoom(roomID string) error
	}

	// Notifier is told about scheduled sessions; it must not block.
	Notifier interface {
		SessionScheduled(ctx context.Context, s Session)
	}

	ServiceInterface interface {
		Create(ctx context.Context, p core.Principal, ns NewSession) (Session, error)
		Get(ctx context.Context, p core.Principal, id string) (Session, error)
		Start(ctx context.Context, p core.Principal, id string) (Session, error)
		End(ctx context.Context, p core.Principal, id string, es EndSession) (Session, error)
		Cancel(ctx context.Context, p core.Principal, id string) (Session, error)
		Join(ctx context.Context, p core.Principal, id string, js JoinSession) (Participant, error)
		RequireJoined(ctx context.Context, p core.Principal, id string) (Session, error)
		AddParticipant(ctx context.Context, id, userID, role, fingerprint string) (Participant, error)
		Leave(ctx context.Context, p core.Principal, id string) error
		ToggleMute(ctx context.Context, p core.Principal, id, userID string) (*Participant, error)
		RaiseHand(ctx context.Context, p core.Principal, id string) (*Participant, error)
		LowerHand(ctx context.Context, p core.Principal, id string) (*Participant, error)
		AddChatMessage(ctx context.Context, p core.Principal, id string, nm NewChatMessage) (ChatMessage, error)
		Participants(ctx context.Context, p core.Principal, id string, onlyCurrent bool) ([]Participant, error)
		ChatHistory(ctx context.Context, p core.Principal, id string, limit int) ([]ChatMessage, error)
	}

	Service struct {
		repo     Repository
		admitter Admitter
		rooms    Rooms
		notifier Notifier
		logger   core.Logger
		locks    *keyedMutex
	}
)

var _ ServiceInterface = (*Service)(nil)

// NewService returns the session lifecycle manager. rooms & notifier may be nil.
func NewService(repo Repository, admitter Admitter, rooms Rooms, notifier Notifier, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		admitter: admitter,
		rooms:    rooms,
		notifier: notifier,
		logger:   logger,
		locks:    newKeyedMutex(),
	}
}

// Create schedules a new session owned by the calling teacher.
func (svc *Service) Create(ctx context.Context, p core.Principal, ns NewSession) (Session, error) {
	if !p.IsTeacher() {
		return Session{}, core.ErrForbidden
	}

	now := core.Now()
	id := uuid.NewString()
	s, err := svc.repo.Create(ctx, Session{
		ID:              id,
		RoomID:          RoomID(id),
		ClassID:         ns.ClassID,
		TeacherID:       p.UserID,
		SchoolID:        p.SchoolID,
		Title:           ns.Title,
		Description:     ns.Description,
		MaxParticipants: ns.MaxParticipants,
		Status:          StatusScheduled,
		Participants:    []Participant{},
		ChatMessages:    []ChatMessage{},
		Polls:           []Poll{},
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}
	transitionsTotal.WithLabelValues(string(StatusScheduled)).Inc()

	if svc.notifier != nil {
		svc.notifier.SessionScheduled(ctx, s)
	}
	return s, nil
}

// Get returns the session if it belongs to the principal's school.
func (svc *Service) Get(ctx context.Context, p core.Principal, id string) (Session, error) {
	s, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Session{}, errors.Wrap(err, "getting session")
	}
	if s.SchoolID != p.SchoolID {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (svc *Service) Start(ctx context.Context, p core.Principal, id string) (Session, error) {
	s, err := svc.repo.Transition(ctx, id, p.UserID, StatusScheduled, StatusActive, Transition{At: core.Now()})
	if err != nil {
		return Session{}, errors.Wrap(err, "starting session")
	}
	transitionsTotal.WithLabelValues(string(StatusActive)).Inc()
	return s, nil
}

// End ends an active session: every participant still joined leaves and the routing room is closed.
func (svc *Service) End(ctx context.Context, p core.Principal, id string, es EndSession) (Session, error) {
	unlock := svc.locks.Lock(id)
	defer unlock()

	s, err := svc.repo.Get(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Session{}, ErrNotFoundOrWrongState
		}
		return Session{}, errors.Wrap(err, "getting session")
	}

	now := core.Now()
	roster := make([]Participant, len(s.Participants))
	copy(roster, s.Participants)
	for i := range roster {
		if roster[i].Joined() {
			roster[i].LeftAt = &now
			roster[i].HandRaised = false
			roster[i].HandRaisedAt = nil
		}
	}

	s, err = svc.repo.Transition(ctx, id, p.UserID, StatusActive, StatusEnded, Transition{
		At:           now,
		RecordingURL: es.RecordingURL,
		Participants: roster,
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "ending session")
	}
	transitionsTotal.WithLabelValues(string(StatusEnded)).Inc()

	if svc.rooms != nil {
		if err := svc.rooms.CloseRoom(s.RoomID); err != nil {
			svc.logger.Warn(fmt.Sprintf("closing room %s: %v", s.RoomID, err), err, p)
		}
	}
	return s, nil
}

func (svc *Service) Cancel(ctx context.Context, p core.Principal, id string) (Session, error) {
	s, err := svc.repo.Transition(ctx, id, p.UserID, StatusScheduled, StatusCancelled, Transition{At: core.Now()})
	if err != nil {
		return Session{}, errors.Wrap(err, "cancelling session")
	}
	transitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	return s, nil
}

// Join admits the principal's device, adds them to the roster of an active session and ensures its routing room exists.
// A full session refuses new users before any device is admitted.
func (svc *Service) Join(ctx context.Context, p core.Principal, id string, js JoinSession) (Participant, error) {
	unlock := svc.locks.Lock(id)
	defer unlock()

	s, err := svc.Get(ctx, p, id)
	if err != nil {
		return Participant{}, err
	}
	if s.Status != StatusActive {
		return Participant{}, ErrNotActive
	}
	if s.joinedIndex(p.UserID) < 0 && s.full() {
		return Participant{}, ErrFull
	}

	decision := svc.admitter.ValidateForSession(ctx, p, js.deviceRequest())
	if !decision.Valid {
		return Participant{}, &DeviceLimitError{Decision: decision}
	}

	part, err := svc.addParticipantLocked(ctx, id, p.UserID, p.Role, js.Fingerprint, true)
	if err != nil {
		return Participant{}, err
	}

	if svc.rooms != nil {
		if err := svc.rooms.EnsureRoom(ctx, s.RoomID, s.ID); err != nil {
			return Participant{}, errors.Wrap(err, "ensuring session room")
		}
	}
	return part, nil
}

// RequireJoined returns the session if it is active and the principal is currently in its roster.
func (svc *Service) RequireJoined(ctx context.Context, p core.Principal, id string) (Session, error) {
	s, err := svc.Get(ctx, p, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusActive {
		return Session{}, ErrNotActive
	}
	if s.joinedIndex(p.UserID) < 0 {
		return Session{}, ErrNotJoined
	}
	return s, nil
}

// AddParticipant adds the user to the roster. A user already joined keeps their entry, with a refreshed JoinedAt.
func (svc *Service) AddParticipant(ctx context.Context, id, userID, role, fingerprint string) (Participant, error) {
	unlock := svc.locks.Lock(id)
	defer unlock()
	return svc.addParticipantLocked(ctx, id, userID, role, fingerprint, false)
}

// addParticipantLocked must be called with the session lock held.
func (svc *Service) addParticipantLocked(ctx context.Context, id, userID, role, fingerprint string, enforceCapacity bool) (Participant, error) {
	s, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Participant{}, errors.Wrap(err, "getting session")
	}
	if s.Status.Terminal() {
		return Participant{}, ErrClosed
	}

	now := core.Now()
	var part Participant
	if i := s.joinedIndex(userID); i >= 0 {
		s.Participants[i].JoinedAt = now
		s.Participants[i].DeviceFingerprint = fingerprint
		part = s.Participants[i]
	} else {
		if enforceCapacity && s.full() {
			return Participant{}, ErrFull
		}
		part = Participant{
			UserID:            userID,
			Role:              role,
			DeviceFingerprint: fingerprint,
			JoinedAt:          now,
		}
		s.Participants = append(s.Participants, part)
		joinsTotal.Inc()
	}

	if err := svc.repo.SaveParticipants(ctx, id, s.Participants, now, false); err != nil {
		return Participant{}, errors.Wrap(err, "saving participants")
	}
	return part, nil
}

// Leave stamps LeftAt on the caller's joined entry. Leaving when not joined is a no-op.
func (svc *Service) Leave(ctx context.Context, p core.Principal, id string) error {
	unlock := svc.locks.Lock(id)
	defer unlock()

	s, err := svc.Get(ctx, p, id)
	if err != nil {
		return err
	}
	i := s.joinedIndex(p.UserID)
	if i < 0 {
		return nil
	}

	now := core.Now()
	s.Participants[i].LeftAt = &now
	s.Participants[i].HandRaised = false
	s.Participants[i].HandRaisedAt = nil
	return errors.Wrap(svc.repo.SaveParticipants(ctx, id, s.Participants, now, true), "saving participants")
}

// ToggleMute flips the mute state of a joined participant. Only the owning teacher may mute others.
// A nil Participant means the user is not joined.
func (svc *Service) ToggleMute(ctx context.Context, p core.Principal, id, userID string) (*Participant, error) {
	if userID == "" {
		userID = p.UserID
	}
	allow := func(s Session) error {
		if userID != p.UserID && s.TeacherID != p.UserID {
			return core.ErrForbidden
		}
		return nil
	}
	return svc.updateParticipant(ctx, p, id, userID, allow, func(_ Session, part *Participant, _ time.Time) error {
		part.IsMuted = !part.IsMuted
		return nil
	})
}

func (svc *Service) RaiseHand(ctx context.Context, p core.Principal, id string) (*Participant, error) {
	return svc.updateParticipant(ctx, p, id, p.UserID, nil, func(_ Session, part *Participant, now time.Time) error {
		if !part.HandRaised {
			part.HandRaised = true
			part.HandRaisedAt = &now
		}
		return nil
	})
}

func (svc *Service) LowerHand(ctx context.Context, p core.Principal, id string) (*Participant, error) {
	return svc.updateParticipant(ctx, p, id, p.UserID, nil, func(_ Session, part *Participant, _ time.Time) error {
		part.HandRaised = false
		part.HandRaisedAt = nil
		return nil
	})
}

func (svc *Service) updateParticipant(
	ctx context.Context,
	p core.Principal,
	id, userID string,
	allow func(s Session) error,
	update func(s Session, part *Participant, now time.Time) error,
) (*Participant, error) {
	unlock := svc.locks.Lock(id)
	defer unlock()

	s, err := svc.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, ErrClosed
	}
	if allow != nil {
		if err := allow(s); err != nil {
			return nil, err
		}
	}
	i := s.joinedIndex(userID)
	if i < 0 {
		return nil, nil
	}

	now := core.Now()
	if err := update(s, &s.Participants[i], now); err != nil {
		return nil, err
	}
	if err := svc.repo.SaveParticipants(ctx, id, s.Participants, now, false); err != nil {
		return nil, errors.Wrap(err, "saving participants")
	}
	part := s.Participants[i]
	return &part, nil
}

// AddChatMessage appends a message to the transcript.
func (svc *Service) AddChatMessage(ctx context.Context, p core.Principal, id string, nm NewChatMessage) (ChatMessage, error) {
	unlock := svc.locks.Lock(id)
	defer unlock()

	s, err := svc.Get(ctx, p, id)
	if err != nil {
		return ChatMessage{}, err
	}
	if s.Status.Terminal() {
		return ChatMessage{}, ErrClosed
	}
	if nm.Type == ChatAnnouncement && s.TeacherID != p.UserID {
		return ChatMessage{}, core.ErrForbidden
	}

	msg := ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   p.UserID,
		SenderRole: p.Role,
		SenderName: nm.SenderName,
		Message:    nm.Message,
		Type:       nm.Type,
		Timestamp:  core.Now(),
	}
	if err := svc.repo.AppendChatMessage(ctx, id, msg); err != nil {
		return ChatMessage{}, errors.Wrap(err, "appending chat message")
	}
	return msg, nil
}

func (svc *Service) Participants(ctx context.Context, p core.Principal, id string, onlyCurrent bool) ([]Participant, error) {
	s, err := svc.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if onlyCurrent {
		return s.CurrentParticipants(), nil
	}
	return s.Participants, nil
}

// ChatHistory returns the `limit` most recent messages, oldest first.
func (svc *Service) ChatHistory(ctx context.Context, p core.Principal, id string, limit int) ([]ChatMessage, error) {
	s, err := svc.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultChatHistory
	} else if limit > MaxChatHistoryLimit {
		limit = MaxChatHistoryLimit
	}
	msgs := s.ChatMessages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
