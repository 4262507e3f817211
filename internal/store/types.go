package store

// Bot is one operated bot registration.
type Bot struct {
	BotID       string
	Name        string
	Mode        string // embedded | gateway
	OwnerUserID string // empty means no owner gate
	AdapterName string
	CreatedAt   int64
}

const (
	BotModeEmbedded = "embedded"
	BotModeGateway  = "gateway"
)

// TelegramUpdateJob statuses.
const (
	UpdateJobQueued    = "queued"
	UpdateJobLeased    = "leased"
	UpdateJobCompleted = "completed"
	UpdateJobFailed    = "failed"
)

// UpdateJob is a leased obligation to process one inbound update.
type UpdateJob struct {
	ID             string
	BotID          string
	UpdateID       int64
	Status         string
	LeaseOwner     string
	LeaseExpiresAt int64
	AvailableAt    int64
	Attempts       int
	LastError      string
	CreatedAt      int64
}

// Session statuses.
const (
	SessionActive = "active"
	SessionReset  = "reset"
)

// Session is the per-chat conversational state wrapper.
type Session struct {
	SessionID       string
	BotID           string
	ChatID          string
	AdapterName     string
	AdapterModel    string
	ProjectRoot     string
	UnsafeUntil     int64 // 0 means unset
	AdapterThreadID string
	Status          string
	RollingSummary  string
	LastTurnAt      int64
	CreatedAt       int64
	UpdatedAt       int64
}

// Turn statuses.
const (
	TurnQueued    = "queued"
	TurnInFlight  = "in_flight"
	TurnCompleted = "completed"
	TurnFailed    = "failed"
	TurnCancelled = "cancelled"
)

// Turn is one user-triggered request/response cycle.
type Turn struct {
	TurnID        string
	SessionID     string
	BotID         string
	ChatID        string
	UserText      string
	AssistantText string
	Status        string
	ErrorText     string
	StartedAt     int64
	FinishedAt    int64
	CreatedAt     int64
}

// CliRunJob statuses.
const (
	RunQueued    = "queued"
	RunLeased    = "leased"
	RunInFlight  = "in_flight"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// RunJob is the leased job backing one turn's adapter invocation.
type RunJob struct {
	ID             string
	TurnID         string
	BotID          string
	ChatID         string
	Status         string
	LeaseOwner     string
	LeaseExpiresAt int64
	AvailableAt    int64
	Attempts       int
	LastError      string
	CreatedAt      int64
}

// CliEvent is one persisted, normalized adapter event.
type CliEvent struct {
	ID          int64
	TurnID      string
	BotID       string
	Seq         int
	EventType   string
	PayloadJSON string
	CreatedAt   int64
}

// DeferredButtonAction action types.
const (
	DeferredSummary = "summary"
	DeferredRegen   = "regen"
	DeferredNext    = "next"
)

// DeferredButtonAction statuses.
const (
	DeferredQueued    = "queued"
	DeferredPromoted  = "promoted"
	DeferredCancelled = "cancelled"
)

// DeferredAction is a button-originated follow-up turn queued while an
// earlier run is in flight.
type DeferredAction struct {
	ID           string
	BotID        string
	ChatID       string
	SessionID    string
	ActionType   string
	PromptText   string
	OriginTurnID string
	Status       string
	CreatedAt    int64
}

// ActionToken is a one-shot, TTL-bounded handle binding an inline-keyboard
// press to a concrete action payload.
type ActionToken struct {
	Token       string
	BotID       string
	ChatID      string
	Action      string
	PayloadJSON string
	ExpiresAt   int64
	ConsumedAt  int64 // 0 means not consumed
	CreatedAt   int64
}

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	BotID      string
	ChatID     string
	Action     string
	Result     string
	DetailJSON string
}
