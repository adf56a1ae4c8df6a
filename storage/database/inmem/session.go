package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/masomo-live/core/session"
)

type sessionRepository struct {
	db *sessionTable
}

var _ session.Repository = (*sessionRepository)(nil)

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db.session}
}

// clone copies the session's sub-entities so that callers never share them with the table.
func clone(s session.Session) session.Session {
	s.Participants = append(make([]session.Participant, 0, len(s.Participants)), s.Participants...)
	s.ChatMessages = append(make([]session.ChatMessage, 0, len(s.ChatMessages)), s.ChatMessages...)
	s.Polls = append(make([]session.Poll, 0, len(s.Polls)), s.Polls...)
	return s
}

func (repo *sessionRepository) Create(_ context.Context, s session.Session) (session.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored := clone(s)
	repo.db.table[s.ID] = &stored
	return clone(stored), nil
}

func (repo *sessionRepository) Get(_ context.Context, id string) (session.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.table[id]; ok {
		return clone(*s), nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) Transition(
	_ context.Context,
	id, teacherID string,
	from, to session.Status,
	tr session.Transition,
) (session.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s, ok := repo.db.table[id]
	if !ok || s.TeacherID != teacherID || s.Status != from {
		return session.Session{}, session.ErrNotFoundOrWrongState
	}

	at := tr.At
	s.Status = to
	switch to {
	case session.StatusActive:
		s.StartedAt = &at
	case session.StatusEnded, session.StatusCancelled:
		s.EndedAt = &at
	}
	if tr.RecordingURL != "" {
		s.RecordingURL = tr.RecordingURL
	}
	if tr.Participants != nil {
		s.Participants = append(make([]session.Participant, 0, len(tr.Participants)), tr.Participants...)
	}
	s.UpdatedAt = at
	return clone(*s), nil
}

func (repo *sessionRepository) SaveParticipants(
	_ context.Context,
	id string,
	participants []session.Participant,
	at time.Time,
	anyStatus bool,
) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s, ok := repo.db.table[id]
	if !ok {
		return session.ErrNotFound
	}
	if !anyStatus && s.Status.Terminal() {
		return session.ErrClosed
	}
	s.Participants = append(make([]session.Participant, 0, len(participants)), participants...)
	s.UpdatedAt = at
	return nil
}

func (repo *sessionRepository) AppendChatMessage(_ context.Context, id string, msg session.ChatMessage) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s, ok := repo.db.table[id]
	if !ok {
		return session.ErrNotFound
	}
	if s.Status.Terminal() {
		return session.ErrClosed
	}
	s.ChatMessages = append(s.ChatMessages, msg)
	s.UpdatedAt = msg.Timestamp
	return nil
}
