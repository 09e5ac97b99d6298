package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// QAPair is one user/assistant exchange captured during a call. Question is
// nil when the assistant spoke without a preceding user utterance (the
// greeting turn, or a turn whose transcription never arrived).
type QAPair struct {
	Question *string `json:"question"`
	Answer   string  `json:"answer"`
}

// QALog is the ordered conversation log of a call, stored as a JSONB array.
type QALog []QAPair

// Value implements the driver.Valuer interface for QALog
func (q QALog) Value() (driver.Value, error) {
	if q == nil {
		return nil, nil
	}
	return json.Marshal(q)
}

// Scan implements the sql.Scanner interface for QALog
func (q *QALog) Scan(value interface{}) error {
	if value == nil {
		*q = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into QALog", value)
	}

	return json.Unmarshal(bytes, q)
}

// CallStatus constants for call session status
const (
	CallStatusActive = "active"
	CallStatusEnded  = "ended"
	CallStatusFailed = "failed"
)
