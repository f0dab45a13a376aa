package jobqueue

import (
	"encoding/json"
	"time"
)

// Queue topics consumed by the lifecycle workers.
const (
	TopicExpireBatch  = "subscription.expire_batch"
	TopicRenew        = "subscription.renew"
	TopicPaymentRetry = "payment.retry"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is the queue envelope. Delivery is at-least-once: handlers must
// re-check current store state before acting on a payload.
type Job struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	ErrorMsg   string          `json:"error_msg,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

type ExpireBatchPayload struct {
	SubscriptionIDs []uint `json:"subscription_ids"`
}

type RenewPayload struct {
	SubscriptionID uint `json:"subscription_id"`
}

type PaymentRetryPayload struct {
	PaymentID uint `json:"payment_id"`
}
