package types

import (
	"time"
)

// Role identifies what a participant is allowed to do within a session.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Answer is a student's response to an understanding check.
type Answer string

const (
	AnswerUnderstood    Answer = "understood"
	AnswerNotUnderstood Answer = "not_understood"
)

// IsValid reports whether the answer is one of the two allowed values.
func (a Answer) IsValid() bool {
	return a == AnswerUnderstood || a == AnswerNotUnderstood
}

// Poll is a single understanding check. At most one poll is open per
// session; starting a new one replaces this poll and discards Responses.
type Poll struct {
	CheckID   string            `json:"check_id"`
	Question  string            `json:"question"`
	CreatedAt time.Time         `json:"created_at"`
	Responses map[string]Answer `json:"responses"`
}

// Aggregate is the running tally for a poll, delivered to the teacher only.
// Responded counts every stored response for the current check, including
// responses from participants who have since left; Total counts live
// participants. Responded may therefore exceed Total after a leave.
type Aggregate struct {
	Understood    int `json:"understood"`
	NotUnderstood int `json:"not_understood"`
	Total         int `json:"total"`
	Responded     int `json:"responded"`
}

// Aggregate computes the tally against the given live participant count.
func (p *Poll) Aggregate(participantCount int) Aggregate {
	agg := Aggregate{
		Total:     participantCount,
		Responded: len(p.Responses),
	}
	for _, answer := range p.Responses {
		switch answer {
		case AnswerUnderstood:
			agg.Understood++
		case AnswerNotUnderstood:
			agg.NotUnderstood++
		}
	}
	return agg
}

// Snapshot returns a deep copy safe to use outside the store's locks.
func (p *Poll) Snapshot() *Poll {
	if p == nil {
		return nil
	}
	copied := &Poll{
		CheckID:   p.CheckID,
		Question:  p.Question,
		CreatedAt: p.CreatedAt,
		Responses: make(map[string]Answer, len(p.Responses)),
	}
	for id, answer := range p.Responses {
		copied.Responses[id] = answer
	}
	return copied
}

// Session is one live classroom room. Participants holds student IDs only;
// the teacher's connection is tracked by the connection registry as a weak
// reference and is never part of the membership set.
type Session struct {
	ID           string              `json:"id"`
	Participants map[string]struct{} `json:"-"`
	ActiveCheck  *Poll               `json:"active_check,omitempty"`
	Active       bool                `json:"active"`
	CreatedAt    time.Time           `json:"created_at"`
}

// ParticipantCount returns the number of live student members.
func (s *Session) ParticipantCount() int {
	return len(s.Participants)
}

// HasParticipant reports current membership for the given student ID.
func (s *Session) HasParticipant(participantID string) bool {
	_, ok := s.Participants[participantID]
	return ok
}

// CheckInfo is the degraded-mode view of the open poll, served over HTTP to
// clients whose push transport is down. Response tallies are deliberately
// omitted; students never see them.
type CheckInfo struct {
	CheckID   string    `json:"check_id"`
	Question  string    `json:"question"`
	Timestamp time.Time `json:"timestamp"`
}

// Info returns the poller-facing view of the poll.
func (p *Poll) Info() CheckInfo {
	return CheckInfo{
		CheckID:   p.CheckID,
		Question:  p.Question,
		Timestamp: p.CreatedAt,
	}
}
