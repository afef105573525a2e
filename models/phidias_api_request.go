package models

import "time"

// PhidiasAPIRequest audits a single outbound call to the Phidias platform,
// including retries.
type PhidiasAPIRequest struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      *string   `gorm:"column:session_id;type:char(36);index" json:"session_id,omitempty"`
	HTTPMethod     string    `gorm:"column:http_method;type:varchar(10);not null" json:"http_method"`
	Endpoint       string    `gorm:"column:endpoint;type:varchar(255);not null" json:"endpoint"`
	QueryParams    *string   `gorm:"column:query_params;type:text" json:"query_params,omitempty"`
	Attempt        int       `gorm:"column:attempt;not null;default:1" json:"attempt"`
	ResponseStatus *int      `gorm:"column:response_status" json:"response_status,omitempty"`
	ResponseTimeMs *int      `gorm:"column:response_time_ms" json:"response_time_ms,omitempty"`
	RateLimited    bool      `gorm:"column:rate_limited;not null;default:false" json:"rate_limited"`
	ErrorMessage   *string   `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (PhidiasAPIRequest) TableName() string { return "phidias_api_requests" }
