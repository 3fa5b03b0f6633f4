// Package persistence defines the storage contracts for chat transcripts,
// strategy definitions, and execution records. Concrete backends (Postgres,
// in-memory) live in the databases subpackage.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested session, message, strategy, or
// execution record does not exist.
var ErrNotFound = errors.New("persistence: not found")

// ErrForbidden is returned when the caller's user_id does not own the
// requested resource.
var ErrForbidden = errors.New("persistence: forbidden")

// ChatSession is one conversation thread (§3 Data Model: Session).
type ChatSession struct {
	ID                 string
	Name               string
	UserID             *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessagePreview string
	Model              string
	Summary            string
	SummarizedCount    int
}

// ChatMessage is one persisted turn message (§3 Data Model: Message),
// extended per §6.2 with tool-call bookkeeping and resource linkage.
type ChatMessage struct {
	ID          string
	SessionID   string
	Role        string // "user" | "assistant" | "tool"
	Content     string
	ToolCalls   json.RawMessage // assistant messages: serialized []llm.ToolCall
	ToolCallID  string          // tool messages: the call this responds to
	ResourceID  string          // optional: id of a resource this message produced
	LatencyMs   int
	CreatedAt   time.Time
}

// ChatStore persists chat sessions and their messages (C5 Chat Store).
type ChatStore interface {
	Init(ctx context.Context) error
	Close()

	EnsureSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]ChatSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (ChatSession, error)
	CreateSession(ctx context.Context, userID *int64, name string) (ChatSession, error)
	RenameSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	DeleteSession(ctx context.Context, userID *int64, id string) error

	ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]ChatMessage, error)
	AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []ChatMessage, preview string, model string) error
	UpdateSummary(ctx context.Context, userID *int64, sessionID string, summary string, summarizedCount int) error

	// PutFile upserts a ChatFile by (chat_id, filename) — the unique key
	// named in the data model. Strategy entry/exit/config scripts and other
	// user-visible artifacts (todo.md, CSV exports) live here.
	PutFile(ctx context.Context, userID *int64, chatID, filename, fileType string, data []byte) (ChatFile, error)
	GetFile(ctx context.Context, userID *int64, chatID, filename string) (ChatFile, error)
	// GetFileByID resolves a ChatFile by its opaque id, the form a Strategy's
	// file_ids reference (C9 Strategy Loader).
	GetFileByID(ctx context.Context, fileID string) (ChatFile, error)

	// PutResource persists an immutable tool-result artifact and returns its
	// id for linking from a `tool` ChatMessage's resource_id.
	PutResource(ctx context.Context, resourceType, title string, data []byte) (Resource, error)
	GetResource(ctx context.Context, id string) (Resource, error)
}

// ChatFile is a user-visible artifact scoped to one chat, unique by
// (chat_id, filename), upserted on write (§3 Data Model: ChatFile).
type ChatFile struct {
	ID        string
	ChatID    string
	Filename  string
	FileType  string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resource is an immutable tool-result artifact, referenced by at most one
// `tool` ChatMessage (§3 Data Model: Resource).
type Resource struct {
	ID           string
	ResourceType string
	Title        string
	Data         []byte
	CreatedAt    time.Time
}

// Strategy is a stored strategy definition (§3 Data Model: Strategy).
type Strategy struct {
	ID                        string
	UserID                    int64
	Name                      string
	Mode                      string // "paper" | "live"
	EntryFileID               string
	ExitFileID                string
	ConfigFileID              string
	Capital                   float64
	Enabled                   bool
	Approved                  bool
	ExecutionFrequencySeconds int
	LastRunAt                 time.Time
	Stats                     json.RawMessage
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// StrategyStore persists strategy definitions (supports C9 Loader / C11 Scheduler).
type StrategyStore interface {
	Init(ctx context.Context) error
	Close()

	Create(ctx context.Context, s Strategy) (Strategy, error)
	Get(ctx context.Context, userID int64, id string) (Strategy, error)
	List(ctx context.Context, userID int64) ([]Strategy, error)
	SetMode(ctx context.Context, userID int64, id string, mode string) (Strategy, error)
	SetEnabled(ctx context.Context, userID int64, id string, enabled bool) (Strategy, error)
	Delete(ctx context.Context, userID int64, id string) error

	// ListSchedulable returns every strategy with enabled=true AND
	// approved=true across all users, for the Strategy Scheduler's tick
	// query (§4.11 step 1) — deliberately not user-scoped.
	ListSchedulable(ctx context.Context) ([]Strategy, error)
	// UpdateRuntime persists the end-of-cycle state a Strategy Executor
	// produces: last_run_at and the serialized Stats blob (§4.10 step 6).
	UpdateRuntime(ctx context.Context, id string, lastRunAt time.Time, stats json.RawMessage) error
}

// ExecutionSkip records a signal considered but not acted upon, and why.
type ExecutionSkip struct {
	Signal string
	Reason string
}

// Execution is one strategy cycle's outcome (§3 Data Model, added by this
// expansion — the distilled spec names execution records without giving
// them a shape).
type Execution struct {
	ID          string
	StrategyID  string
	StartedAt   time.Time
	DurationMs  int
	Mode        string
	Status      string // "success" | "failed"
	Signals     json.RawMessage
	Actions     json.RawMessage
	Skips       []ExecutionSkip
	Logs        string
	Error       string
}

// ExecutionStore persists strategy execution history (C10 Executor / C11 Scheduler audit trail).
type ExecutionStore interface {
	Init(ctx context.Context) error
	Close()

	Append(ctx context.Context, e Execution) (Execution, error)
	List(ctx context.Context, strategyID string, limit int) ([]Execution, error)
}
