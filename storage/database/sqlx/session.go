package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-live/core/session"
)

const sessionColumns = `id, room_id, class_id, teacher_id, school_id, title, description, max_participants, status,
	started_at, ended_at, recording_url, participants, chat_messages, polls, created_at, updated_at`

// openClause matches the sessions that are neither ended nor cancelled.
const openClause = `status NOT IN ('ended', 'cancelled')`

type sessionRow struct {
	ID              string         `db:"id"`
	RoomID          string         `db:"room_id"`
	ClassID         string         `db:"class_id"`
	TeacherID       string         `db:"teacher_id"`
	SchoolID        string         `db:"school_id"`
	Title           string         `db:"title"`
	Description     string         `db:"description"`
	MaxParticipants int            `db:"max_participants"`
	Status          string         `db:"status"`
	StartedAt       null.Time      `db:"started_at"`
	EndedAt         null.Time      `db:"ended_at"`
	RecordingURL    null.String    `db:"recording_url"`
	Participants    types.JSONText `db:"participants"`
	ChatMessages    types.JSONText `db:"chat_messages"`
	Polls           types.JSONText `db:"polls"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r sessionRow) session() (session.Session, error) {
	s := session.Session{
		ID:              r.ID,
		RoomID:          r.RoomID,
		ClassID:         r.ClassID,
		TeacherID:       r.TeacherID,
		SchoolID:        r.SchoolID,
		Title:           r.Title,
		Description:     r.Description,
		MaxParticipants: r.MaxParticipants,
		Status:          session.Status(r.Status),
		StartedAt:       utcPtr(r.StartedAt.Ptr()),
		EndedAt:         utcPtr(r.EndedAt.Ptr()),
		RecordingURL:    r.RecordingURL.String,
		Participants:    []session.Participant{},
		ChatMessages:    []session.ChatMessage{},
		Polls:           []session.Poll{},
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	for _, doc := range []struct {
		raw  types.JSONText
		dest interface{}
		name string
	}{
		{r.Participants, &s.Participants, "participants"},
		{r.ChatMessages, &s.ChatMessages, "chat messages"},
		{r.Polls, &s.Polls, "polls"},
	} {
		if len(doc.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.raw, doc.dest); err != nil {
			return session.Session{}, errors.Wrapf(err, "decoding session %s", doc.name)
		}
	}
	return s, nil
}

func jsonDoc(v interface{}) (types.JSONText, error) {
	b, err := json.Marshal(v)
	return types.JSONText(b), err
}

type sessionRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) get(ctx context.Context, notFound error, query string, args ...interface{}) (session.Session, error) {
	var row sessionRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, notFound
		}
		return session.Session{}, err
	}
	return row.session()
}

func (repo *sessionRepository) Create(ctx context.Context, s session.Session) (session.Session, error) {
	participants, err := jsonDoc(s.Participants)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "encoding participants")
	}
	chat, err := jsonDoc(s.ChatMessages)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "encoding chat messages")
	}
	polls, err := jsonDoc(s.Polls)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "encoding polls")
	}

	created, err := repo.get(ctx, session.ErrNotFound, `
		INSERT INTO live_sessions (id, room_id, class_id, teacher_id, school_id, title, description, max_participants,
			status, participants, chat_messages, polls, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+sessionColumns,
		s.ID, s.RoomID, s.ClassID, s.TeacherID, s.SchoolID, s.Title, s.Description, s.MaxParticipants,
		string(s.Status), participants, chat, polls, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	return created, errors.Wrap(err, "inserting session")
}

func (repo *sessionRepository) Get(ctx context.Context, id string) (session.Session, error) {
	return repo.get(ctx, session.ErrNotFound, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id)
}

func (repo *sessionRepository) Transition(
	ctx context.Context,
	id, teacherID string,
	from, to session.Status,
	tr session.Transition,
) (session.Session, error) {
	args := []interface{}{id, teacherID, string(from), string(to), tr.At.UTC()}
	sets := []string{"status = $4", "updated_at = $5"}
	switch to {
	case session.StatusActive:
		sets = append(sets, "started_at = $5")
	case session.StatusEnded, session.StatusCancelled:
		sets = append(sets, "ended_at = $5")
	}
	if tr.RecordingURL != "" {
		args = append(args, tr.RecordingURL)
		sets = append(sets, fmt.Sprintf("recording_url = $%d", len(args)))
	}
	if tr.Participants != nil {
		participants, err := jsonDoc(tr.Participants)
		if err != nil {
			return session.Session{}, errors.Wrap(err, "encoding participants")
		}
		args = append(args, participants)
		sets = append(sets, fmt.Sprintf("participants = $%d", len(args)))
	}

	return repo.get(ctx, session.ErrNotFoundOrWrongState, fmt.Sprintf(`
		UPDATE live_sessions SET %s
		WHERE id = $1 AND teacher_id = $2 AND status = $3
		RETURNING %s`, strings.Join(sets, ", "), sessionColumns),
		args...,
	)
}

// closedOrMissing tells why an update guarded by openClause matched no row.
func (repo *sessionRepository) closedOrMissing(ctx context.Context, id string) error {
	if _, err := repo.Get(ctx, id); err != nil {
		return err
	}
	return session.ErrClosed
}

func (repo *sessionRepository) SaveParticipants(
	ctx context.Context,
	id string,
	participants []session.Participant,
	at time.Time,
	anyStatus bool,
) error {
	doc, err := jsonDoc(participants)
	if err != nil {
		return errors.Wrap(err, "encoding participants")
	}

	query := `UPDATE live_sessions SET participants = $2, updated_at = $3 WHERE id = $1`
	if !anyStatus {
		query += ` AND ` + openClause
	}
	res, err := repo.db.ExecContext(ctx, query, id, doc, at.UTC())
	if err != nil {
		return errors.Wrap(err, "updating participants")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "updating participants")
	} else if n == 0 {
		return repo.closedOrMissing(ctx, id)
	}
	return nil
}

// AppendChatMessage appends to the JSONB transcript in place, so that concurrent appends are never lost.
func (repo *sessionRepository) AppendChatMessage(ctx context.Context, id string, msg session.ChatMessage) error {
	doc, err := jsonDoc([]session.ChatMessage{msg})
	if err != nil {
		return errors.Wrap(err, "encoding chat message")
	}

	res, err := repo.db.ExecContext(ctx, `
		UPDATE live_sessions SET chat_messages = chat_messages || $2::jsonb, updated_at = $3
		WHERE id = $1 AND `+openClause,
		id, doc, msg.Timestamp.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "appending chat message")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "appending chat message")
	} else if n == 0 {
		return repo.closedOrMissing(ctx, id)
	}
	return nil
}
