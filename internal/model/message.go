package model

import (
	"time"
)

// MessageType classifies a message for client-side grouping and filtering
type MessageType string

// Message types understood by the clients
const (
	TypeAnnouncement      MessageType = "announcement"
	TypeUpdate            MessageType = "update"
	TypeAssignment        MessageType = "assignment"
	TypeReminder          MessageType = "reminder"
	TypeAuthLevelChange   MessageType = "auth_level_change"
	TypeAtCloudRoleChange MessageType = "atcloud_role_change"
	TypeAdminNotification MessageType = "admin_notification"
	TypeUserManagement    MessageType = "user_management"
)

// Priority drives retention: higher priority messages are kept longer
type Priority string

// Message priorities
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Creator is a denormalized snapshot of the user that produced a message.
// It is embedded in the message so client reads never need a join, and it
// survives the creator's later profile changes or deletion.
type Creator struct {
	ID            string `json:"id" db:"id"`
	FirstName     string `json:"first_name" db:"first_name"`
	LastName      string `json:"last_name" db:"last_name"`
	Username      string `json:"username" db:"username"`
	Avatar        string `json:"avatar,omitempty" db:"avatar"`
	Gender        string `json:"gender,omitempty" db:"gender"`
	AuthLevel     string `json:"auth_level,omitempty" db:"auth_level"`
	RoleInAtCloud string `json:"role_in_atcloud,omitempty" db:"role_in_atcloud"`
}

// RecipientState tracks one recipient's view of one message across the two
// client surfaces: the system-message list and the bell dropdown. All four
// flags are monotonic; once set they are never cleared.
type RecipientState struct {
	ReadInSystem      bool       `json:"read_in_system"`
	ReadInBell        bool       `json:"read_in_bell"`
	RemovedFromBell   bool       `json:"removed_from_bell"`
	DeletedFromSystem bool       `json:"deleted_from_system"`
	ReadInSystemAt    *time.Time `json:"read_in_system_at,omitempty"`
	ReadInBellAt      *time.Time `json:"read_in_bell_at,omitempty"`
	RemovedFromBellAt *time.Time `json:"removed_from_bell_at,omitempty"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
}

// MarkReadInSystem sets the system-view read flag. Repeated calls keep the
// first timestamp.
func (s *RecipientState) MarkReadInSystem(now time.Time) {
	if !s.ReadInSystem {
		s.ReadInSystem = true
		s.ReadInSystemAt = &now
	}
	s.LastInteractionAt = &now
}

// MarkReadInBell sets the bell-view read flag. Repeated calls keep the
// first timestamp.
func (s *RecipientState) MarkReadInBell(now time.Time) {
	if !s.ReadInBell {
		s.ReadInBell = true
		s.ReadInBellAt = &now
	}
	s.LastInteractionAt = &now
}

// MarkReadEverywhere sets both read flags in one mutation so a read from
// either view is reflected in the other without a second client action.
func (s *RecipientState) MarkReadEverywhere(now time.Time) {
	if !s.ReadInSystem {
		s.ReadInSystem = true
		s.ReadInSystemAt = &now
	}
	if !s.ReadInBell {
		s.ReadInBell = true
		s.ReadInBellAt = &now
	}
	s.LastInteractionAt = &now
}

// MarkRemovedFromBell hides the message from the recipient's bell dropdown.
// The system-message view is unaffected.
func (s *RecipientState) MarkRemovedFromBell(now time.Time) {
	if !s.RemovedFromBell {
		s.RemovedFromBell = true
		s.RemovedFromBellAt = &now
	}
	s.LastInteractionAt = &now
}

// MarkDeletedFromSystem hides the message from the recipient's system-message
// list. The bell view is unaffected and the record itself is kept.
func (s *RecipientState) MarkDeletedFromSystem(now time.Time) {
	if !s.DeletedFromSystem {
		s.DeletedFromSystem = true
		s.DeletedAt = &now
	}
	s.LastInteractionAt = &now
}

// Dismissed reports whether the recipient has dropped the message from at
// least one view.
func (s *RecipientState) Dismissed() bool {
	return s.DeletedFromSystem || s.RemovedFromBell
}

// Interacted reports whether the recipient has read or dismissed the message
// in any view.
func (s *RecipientState) Interacted() bool {
	return s.ReadInSystem || s.ReadInBell || s.RemovedFromBell || s.DeletedFromSystem
}

// Message is a unified notification record: one row backing both the
// system-message list and the bell dropdown, with per-recipient state
type Message struct {
	ID           string                     `json:"id" db:"id"`
	Title        string                     `json:"title" db:"title"`
	Content      string                     `json:"content" db:"content"`
	Type         MessageType                `json:"type" db:"type"`
	Priority     Priority                   `json:"priority" db:"priority"`
	Creator      *Creator                   `json:"creator,omitempty" db:"creator"`
	HideCreator  bool                       `json:"hide_creator" db:"hide_creator"`
	IsActive     bool                       `json:"is_active" db:"is_active"`
	TargetUserID string                     `json:"target_user_id,omitempty" db:"target_user_id"`
	Metadata     map[string]interface{}     `json:"metadata,omitempty" db:"metadata"`
	Recipients   map[string]*RecipientState `json:"recipients" db:"recipients"`
	CreatedAt    time.Time                  `json:"created_at" db:"created_at"`
	ExpiresAt    *time.Time                 `json:"expires_at,omitempty" db:"expires_at"`
}

// StateFor returns the recipient's state entry, or nil if the recipient was
// never targeted by this message.
func (m *Message) StateFor(recipientID string) *RecipientState {
	if m.Recipients == nil {
		return nil
	}
	return m.Recipients[recipientID]
}

// Age returns how long the message has existed relative to now.
func (m *Message) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// MessageCreate represents data for creating a message
type MessageCreate struct {
	Title        string                 `json:"title" binding:"required" validate:"required"`
	Content      string                 `json:"content" binding:"required" validate:"required"`
	Type         MessageType            `json:"type"`
	Priority     Priority               `json:"priority"`
	HideCreator  bool                   `json:"hide_creator"`
	TargetUserID string                 `json:"target_user_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
}

// UnreadCounts represents a recipient's unread totals per view. The two
// counters are computed independently; a message unread in only one view
// contributes to that view's counter alone.
type UnreadCounts struct {
	BellNotifications int `json:"bell_notifications"`
	SystemMessages    int `json:"system_messages"`
	Total             int `json:"total"`
}
