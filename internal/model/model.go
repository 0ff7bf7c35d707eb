package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/juju/errors"
)

type Role string

const (
	RoleStudent   Role = "STUDENT"
	RoleTeacher   Role = "TEACHER"
	RoleAdmin     Role = "ADMIN"
	RoleAnonymous Role = "ANONYMOUS"
)

// ParseRole maps unknown or empty values to RoleAnonymous.
func ParseRole(value string) Role {
	switch Role(value) {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return Role(value)
	}
	return RoleAnonymous
}

// HasWallet reports whether the role owns a balance.
func (r Role) HasWallet() bool {
	return r == RoleStudent || r == RoleTeacher
}

type AccountStatus string

const (
	StatusActive  AccountStatus = "ACTIVE"
	StatusBlocked AccountStatus = "BLOCKED"
)

type LoginResult struct {
	Token  string `json:"token"`
	Role   string `json:"role"`
	Status string `json:"status"`
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

type Notification struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt Timestamp `json:"createdAt"`
}

type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "IN_PROGRESS"
	ProgressCompleted  ProgressStatus = "COMPLETED"
)

type Progress struct {
	ID                 string         `json:"id,omitempty"`
	CourseID           string         `json:"courseId"`
	CourseTitle        string         `json:"courseTitle,omitempty"`
	CompletedLessons   int            `json:"completedLessons"`
	TotalLessons       int            `json:"totalLessons"`
	Percent            float64        `json:"percent"`
	Status             ProgressStatus `json:"status"`
	CompletedLessonIDs []string       `json:"completedLessonIds"`
}

// Clone copies the lesson id slice so cached records never alias caller memory.
func (p Progress) Clone() Progress {
	p.CompletedLessonIDs = append([]string(nil), p.CompletedLessonIDs...)
	return p
}

type TopUpResult struct {
	Message     string
	Balance     *float64
	RedirectURL string
}

type PurchaseResult struct {
	Message string
	Balance *float64
}

// Timestamp accepts RFC 3339 as well as the zone-less local date-times the backend
// emits for createdAt.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.NotValidf("timestamp %s", data)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return errors.NotValidf("timestamp %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
