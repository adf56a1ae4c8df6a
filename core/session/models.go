package session

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// chat message types
const (
	ChatText         = "text"
	ChatSystem       = "system"
	ChatAnnouncement = "announcement"
)

const (
	MaxTitleLen         = 200
	MaxParticipantsCap  = 1000
	MaxChatMessageLen   = 2000
	DefaultChatHistory  = 50
	MaxChatHistoryLimit = 500
)

type (
	// Participant is one roster entry. A user is currently joined through the entry whose LeftAt is unset;
	// there is at most one such entry per user.
	Participant struct {
		UserID            string     `json:"userId"`
		Role              string     `json:"role"`
		DeviceFingerprint string     `json:"deviceFingerprint"`
		JoinedAt          time.Time  `json:"joinedAt"`
		LeftAt            *time.Time `json:"leftAt,omitempty"`
		IsMuted           bool       `json:"isMuted"`
		HandRaised        bool       `json:"handRaised"`
		HandRaisedAt      *time.Time `json:"handRaisedAt,omitempty"`
	}

	ChatMessage struct {
		ID         string    `json:"id"`
		SenderID   string    `json:"senderId"`
		SenderRole string    `json:"senderRole"`
		SenderName string    `json:"senderName"`
		Message    string    `json:"message"`
		Type       string    `json:"type"`
		Timestamp  time.Time `json:"timestamp"`
	}

	PollOption struct {
		ID     string `json:"id"`
		Text   string `json:"text"`
		Weight int    `json:"weight"`
	}

	PollResponse struct {
		UserID      string    `json:"userId"`
		OptionID    string    `json:"optionId"`
		RespondedAt time.Time `json:"respondedAt"`
	}

	// Poll is stored with the session; no operation creates or answers polls yet.
	Poll struct {
		ID        string         `json:"id"`
		Question  string         `json:"question"`
		Options   []PollOption   `json:"options"`
		Responses []PollResponse `json:"responses"`
		IsActive  bool           `json:"isActive"`
		CreatedAt time.Time      `json:"createdAt"`
	}

	Session struct {
		ID              string        `json:"id"`
		RoomID          string        `json:"roomId"`
		ClassID         string        `json:"classId"`
		TeacherID       string        `json:"teacherId"`
		SchoolID        string        `json:"schoolId"`
		Title           string        `json:"title"`
		Description     string        `json:"description,omitempty"`
		MaxParticipants int           `json:"maxParticipants"` // 0: unlimited
		Status          Status        `json:"status"`
		StartedAt       *time.Time    `json:"startedAt,omitempty"`
		EndedAt         *time.Time    `json:"endedAt,omitempty"`
		RecordingURL    string        `json:"recordingUrl,omitempty"`
		Participants    []Participant `json:"participants"`
		ChatMessages    []ChatMessage `json:"chatMessages"`
		Polls           []Poll        `json:"polls"`
		CreatedAt       time.Time     `json:"createdAt"`
		UpdatedAt       time.Time     `json:"updatedAt"`
	}

	// Transition holds the fields written along with a status change.
	Transition struct {
		At           time.Time
		RecordingURL string
		Participants []Participant // nil: roster unchanged
	}
)

func (p Participant) Joined() bool { return p.LeftAt == nil }

// joinedIndex returns the index of the user's currently joined roster entry, or -1.
func (s Session) joinedIndex(userID string) int {
	for i, p := range s.Participants {
		if p.UserID == userID && p.Joined() {
			return i
		}
	}
	return -1
}

// full reports whether no one else can join.
func (s Session) full() bool {
	return s.MaxParticipants > 0 && len(s.CurrentParticipants()) >= s.MaxParticipants
}

// CurrentParticipants returns the roster entries of the users currently joined.
func (s Session) CurrentParticipants() []Participant {
	current := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.Joined() {
			current = append(current, p)
		}
	}
	return current
}

// NewSession defines what information may be provided to schedule a Session.
type NewSession struct {
	ClassID         string `json:"classId" validate:"required,notblank,max=100"`
	Title           string `json:"title" validate:"required,notblank,max=200"`
	Description     string `json:"description" validate:"max=2000"`
	MaxParticipants int    `json:"maxParticipants" validate:"min=0,max=1000"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.ClassID = core.CleanString(ns.ClassID)
	ns.Title = core.CleanString(ns.Title)
	ns.Description = core.CleanString(ns.Description)
	return validate.Struct(ns)
}

type EndSession struct {
	RecordingURL string `json:"recordingUrl" validate:"omitempty,url,max=2048"`
}

func (es *EndSession) Validate(validate *validator.Validate) error {
	es.RecordingURL = core.CleanString(es.RecordingURL)
	return validate.Struct(es)
}

// JoinSession is what a client sends to join a Session with a device.
type JoinSession struct {
	Fingerprint string      `json:"deviceFingerprint" validate:"required,fingerprint"`
	SessionType string      `json:"sessionType" validate:"omitempty,max=50"`
	Info        device.Info `json:"deviceInfo"`
}

func (js *JoinSession) Validate(validate *validator.Validate) error {
	js.Fingerprint = core.CleanString(js.Fingerprint)
	js.SessionType = core.CleanString(js.SessionType, true /* lower */)
	return validate.Struct(js)
}

func (js JoinSession) deviceRequest() device.ValidateRequest {
	sessionType := js.SessionType
	if sessionType == "" {
		sessionType = device.DefaultSessionType
	}
	return device.ValidateRequest{Fingerprint: js.Fingerprint, SessionType: sessionType, Info: js.Info}
}

type NewChatMessage struct {
	SenderName string `json:"senderName" validate:"max=200"`
	Message    string `json:"message" validate:"required,notblank,max=2000"`
	Type       string `json:"type" validate:"omitempty,chat_type"`
}

func (nm *NewChatMessage) Validate(validate *validator.Validate) error {
	nm.SenderName = core.CleanString(nm.SenderName)
	nm.Message = core.CleanString(nm.Message)
	nm.Type = core.CleanString(nm.Type, true /* lower */)
	if nm.Type == "" {
		nm.Type = ChatText
	}
	return validate.Struct(nm)
}

type MuteParticipant struct {
	UserID string `json:"userId"` // empty: the caller
}
