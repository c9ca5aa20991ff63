package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LabelList stores provider label ids as a JSON-encoded text column so the
// model works on both postgres and sqlite.
type LabelList []string

func (l LabelList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *LabelList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported label list type %T", value)
	}
}

// Email is a synchronized message header, one per (user, project, provider
// message id). Bodies are fetched lazily from the provider and never stored.
type Email struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"user_id" gorm:"primaryKey"`
	ProjectID  string    `json:"project_id" gorm:"primaryKey"`
	ThreadID   string    `json:"thread_id"`
	Snippet    string    `json:"snippet"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at" gorm:"index"`
	Labels     LabelList `json:"labels" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}
