package models

import (
	"time"
)

const (
	AccountActive    = "ACTIVE"
	AccountSuspended = "SUSPENDED"

	TemplatePending  = "PENDING"
	TemplateApproved = "APPROVED"
	TemplateRejected = "REJECTED"

	QueueDraft      = "DRAFT"
	QueueScheduled  = "SCHEDULED"
	QueueProcessing = "PROCESSING"
	QueueCompleted  = "COMPLETED"
	QueueFailed     = "FAILED"
	QueuePaused     = "PAUSED"

	MessageQueued    = "QUEUED"
	MessageSent      = "SENT"
	MessageDelivered = "DELIVERED"
	MessageRead      = "READ"
	MessageFailed    = "FAILED"

	// ErrorUnconfirmed marks a send whose outcome is unknown. The gateway may
	// have accepted it, so it is never sent again.
	ErrorUnconfirmed = "UNCONFIRMED"

	OptOutKeyword = "KEYWORD"
	OptOutManual  = "MANUAL"

	WebhookStatus  = "status"
	WebhookInbound = "inbound"
	WebhookError   = "error"
	WebhookUnknown = "unknown"

	InsightAlert          = "ALERT"
	InsightRecommendation = "RECOMMENDATION"
	InsightTrend          = "TREND"

	PriorityLow      = "LOW"
	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// Customer is owned by the loyalty side of the product; campaigns only read it.
type Customer struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	BusinessID        uint       `gorm:"index;not null" json:"business_id"`
	Name              string     `gorm:"type:varchar(255)" json:"name"`
	Phone             string     `gorm:"type:varchar(32);index" json:"phone"`
	Points            int        `gorm:"default:0" json:"points"`
	LastVisitAt       *time.Time `json:"last_visit_at"`
	AcceptsPromotions bool       `json:"accepts_promotions"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// Account is a sending identity registered with the gateway.
type Account struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	BusinessID         uint      `gorm:"index;not null" json:"business_id"`
	Name               string    `gorm:"type:varchar(255);not null" json:"name"`
	ProviderAccountSID string    `gorm:"type:varchar(64)" json:"provider_account_sid"`
	AuthToken          string    `gorm:"type:varchar(128)" json:"-"`
	PhoneNumber        string    `gorm:"type:varchar(32);index" json:"phone_number"`
	Status             string    `gorm:"type:varchar(20);default:ACTIVE" json:"status"`
	HourlyCap          int       `gorm:"default:80" json:"hourly_cap"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "whatsapp_accounts"
}

// Template is message content; only APPROVED templates may be sent.
type Template struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	BusinessID   uint       `gorm:"index;not null" json:"business_id"`
	Name         string     `gorm:"type:varchar(255);not null" json:"name"`
	Content      string     `gorm:"type:text;not null" json:"content"`
	Category     string     `gorm:"type:varchar(50)" json:"category"`
	Language     string     `gorm:"type:varchar(10);default:es" json:"language"`
	ContentSID   string     `gorm:"type:varchar(64)" json:"content_sid"`
	Status       string     `gorm:"type:varchar(20);default:PENDING" json:"status"`
	Placeholders string     `gorm:"type:text" json:"placeholders"` // JSON list, set at approval
	ApprovedAt   *time.Time `json:"approved_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "whatsapp_templates"
}

// Queue is one campaign: a template, an audience and a schedule.
type Queue struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	BusinessID        uint       `gorm:"index;not null" json:"business_id"`
	AccountID         uint       `gorm:"index;not null" json:"account_id"`
	TemplateID        *uint      `json:"template_id"`
	CustomMessage     string     `gorm:"type:text" json:"custom_message"`
	Name              string     `gorm:"type:varchar(255);not null" json:"name"`
	Description       string     `gorm:"type:text" json:"description"`
	Variables         string     `gorm:"type:text" json:"variables"`       // JSON object
	AudienceFilter    string     `gorm:"type:text" json:"audience_filter"` // JSON object
	Priority          int        `gorm:"default:5;index" json:"priority"`
	MaxRetries        int        `gorm:"default:3" json:"max_retries"`
	RetryDelayMinutes int        `gorm:"default:5" json:"retry_delay_minutes"`
	BatchSize         int        `gorm:"default:50" json:"batch_size"`
	RateLimitPerHour  int        `gorm:"default:100" json:"rate_limit_per_hour"`
	ScheduledAt       *time.Time `json:"scheduled_at"`
	StartTime         string     `gorm:"type:varchar(5);default:'09:00'" json:"start_time"`
	EndTime           string     `gorm:"type:varchar(5);default:'18:00'" json:"end_time"`
	Timezone          string     `gorm:"type:varchar(64);default:'America/Guayaquil'" json:"timezone"`
	Status            string     `gorm:"type:varchar(20);default:DRAFT;index" json:"status"`
	Run               int        `gorm:"default:0" json:"run"`
	PauseRequested    bool       `gorm:"default:false" json:"pause_requested"`
	NextAttemptAt     *time.Time `gorm:"index" json:"next_attempt_at"`
	LeaseOwner        string     `gorm:"type:varchar(64)" json:"-"`
	LeaseExpiresAt    *time.Time `json:"-"`
	LastError         string     `gorm:"type:text" json:"last_error"`

	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	TotalSent       int `gorm:"default:0" json:"total_sent"`
	TotalDelivered  int `gorm:"default:0" json:"total_delivered"`
	TotalRead       int `gorm:"default:0" json:"total_read"`
	TotalFailed     int `gorm:"default:0" json:"total_failed"`
	TotalSuppressed int `gorm:"default:0" json:"total_suppressed"`
	TotalReplied    int `gorm:"default:0" json:"total_replied"`
	TotalOptedOut   int `gorm:"default:0" json:"total_opted_out"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Queue) TableName() string {
	return "whatsapp_queues"
}

// Message is one send attempt series to one recipient within one queue run.
// A FAILED message retried by an operator keeps its row; the retry is a new
// row with the next Seq and the old one is marked superseded.
type Message struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	QueueID      uint       `gorm:"uniqueIndex:idx_message_recipient;not null" json:"queue_id"`
	Run          int        `gorm:"uniqueIndex:idx_message_recipient;not null" json:"run"`
	Phone        string     `gorm:"uniqueIndex:idx_message_recipient;type:varchar(32);not null;index" json:"phone"`
	Seq          int        `gorm:"uniqueIndex:idx_message_recipient;not null;default:0" json:"seq"`
	AccountID    uint       `gorm:"index;not null" json:"account_id"`
	BusinessID   uint       `gorm:"index;not null" json:"business_id"`
	CustomerID   *uint      `json:"customer_id"`
	Body         string     `gorm:"type:text" json:"body"`
	ProviderID   string     `gorm:"type:varchar(64);index" json:"provider_id"`
	Status       string     `gorm:"type:varchar(20);not null;index" json:"status"`
	Attempts     int        `gorm:"default:0" json:"attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at"`
	SendingAt    *time.Time `json:"sending_at"`
	SupersededAt *time.Time `json:"superseded_at"`
	QueuedAt     time.Time  `json:"queued_at"`
	SentAt       *time.Time `gorm:"index" json:"sent_at"`
	DeliveredAt  *time.Time `json:"delivered_at"`
	ReadAt       *time.Time `json:"read_at"`
	FailedAt     *time.Time `json:"failed_at"`
	ErrorCode    string     `gorm:"type:varchar(32)" json:"error_code"`
	ErrorDetail  string     `gorm:"type:text" json:"error_detail"`
	HasResponse  bool       `gorm:"default:false" json:"has_response"`
	ResponseText string     `gorm:"type:text" json:"response_text"`
	ResponseAt   *time.Time `json:"response_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "whatsapp_messages"
}

// OptOut suppresses a phone across every queue of a business.
type OptOut struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Phone         string     `gorm:"uniqueIndex:idx_optout_phone_business;type:varchar(32);not null" json:"phone"`
	BusinessID    uint       `gorm:"uniqueIndex:idx_optout_phone_business;not null" json:"business_id"`
	CustomerID    *uint      `json:"customer_id"`
	Method        string     `gorm:"type:varchar(20)" json:"method"`
	Keyword       string     `gorm:"type:varchar(64)" json:"keyword"`
	OptedBackIn   bool       `gorm:"default:false" json:"opted_back_in"`
	OptedOutAt    time.Time  `json:"opted_out_at"`
	OptedBackInAt *time.Time `json:"opted_back_in_at"`
}

func (OptOut) TableName() string {
	return "whatsapp_opt_outs"
}

// Webhook is the append-only audit row for every callback received.
type Webhook struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	ProviderSID  string     `gorm:"type:varchar(64);index" json:"provider_sid"`
	Type         string     `gorm:"type:varchar(20)" json:"type"`
	Status       string     `gorm:"type:varchar(32)" json:"status"`
	ErrorCode    string     `gorm:"type:varchar(32)" json:"error_code"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	RawPayload   string     `gorm:"type:text" json:"raw_payload"`
	Processed    bool       `gorm:"default:false" json:"processed"`
	ProcessedAt  *time.Time `json:"processed_at"`
	Outcome      string     `gorm:"type:varchar(64)" json:"outcome"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Webhook) TableName() string {
	return "whatsapp_webhooks"
}

// InboundMessage records each distinct inbound event once.
type InboundMessage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProviderSID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"provider_sid"`
	FromPhone   string    `gorm:"type:varchar(32);index" json:"from_phone"`
	ToPhone     string    `gorm:"type:varchar(32)" json:"to_phone"`
	Body        string    `gorm:"type:text" json:"body"`
	BusinessID  *uint     `json:"business_id"`
	MessageID   *uint     `json:"message_id"`
	OptOut      bool      `gorm:"default:false" json:"opt_out"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (InboundMessage) TableName() string {
	return "whatsapp_inbound_messages"
}

// Suppression marks a recipient skipped for opt-out within one queue run.
type Suppression struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	QueueID   uint      `gorm:"uniqueIndex:idx_suppression_recipient;not null" json:"queue_id"`
	Run       int       `gorm:"uniqueIndex:idx_suppression_recipient;not null" json:"run"`
	Phone     string    `gorm:"uniqueIndex:idx_suppression_recipient;type:varchar(32);not null" json:"phone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Suppression) TableName() string {
	return "whatsapp_suppressions"
}

// Insight is a derived observation shown on the campaign dashboard.
type Insight struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	BusinessID        uint      `gorm:"index;not null" json:"business_id"`
	Title             string    `gorm:"type:varchar(255);not null" json:"title"`
	Description       string    `gorm:"type:text" json:"description"`
	Type              string    `gorm:"type:varchar(20)" json:"type"`
	Priority          string    `gorm:"type:varchar(20)" json:"priority"`
	Metric            string    `gorm:"type:varchar(64)" json:"metric"`
	Value             float64   `json:"value"`
	ActionRecommended string    `gorm:"type:text" json:"action_recommended"`
	IsRead            bool      `gorm:"default:false" json:"is_read"`
	IsActioned        bool      `gorm:"default:false" json:"is_actioned"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
}

func (Insight) TableName() string {
	return "whatsapp_insights"
}

// All lists every model for migration.
func All() []interface{} {
	return []interface{}{
		&Customer{},
		&Account{},
		&Template{},
		&Queue{},
		&Message{},
		&OptOut{},
		&Webhook{},
		&InboundMessage{},
		&Suppression{},
		&Insight{},
	}
}
