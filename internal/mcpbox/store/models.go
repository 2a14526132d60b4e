package store

import "time"

// Server statuses.
const (
	ServerImported = "imported"
	ServerReady    = "ready"
	ServerRunning  = "running"
	ServerStopped  = "stopped"
	ServerError    = "error"
)

// Tool types.
const (
	ToolTypePythonCode      = "python_code"
	ToolTypeMCPPassthrough  = "mcp_passthrough"
)

// Tool approval statuses.
const (
	ApprovalDraft         = "draft"
	ApprovalPendingReview = "pending_review"
	ApprovalApproved      = "approved"
	ApprovalRejected      = "rejected"
)

// Workflow request statuses (ModuleRequest, NetworkAccessRequest).
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// External MCP source auth/transport/status enums.
const (
	AuthTypeNone   = "none"
	AuthTypeBearer = "bearer"
	AuthTypeHeader = "header"
	AuthTypeOAuth  = "oauth"

	TransportStreamableHTTP = "streamable_http"
	TransportSSE            = "sse"

	SourceActive   = "active"
	SourceError    = "error"
	SourceDisabled = "disabled"
)

// Activity log type / level enums.
const (
	LogTypeMCPRequest  = "mcp_request"
	LogTypeMCPResponse = "mcp_response"
	LogTypeNetwork     = "network"
	LogTypeAlert       = "alert"
	LogTypeError       = "error"
	LogTypeSystem      = "system"
	LogTypeAudit       = "audit"

	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Server is a named container for tools.
type Server struct {
	ID                string
	Name              string
	Description       string
	Status            string
	AllowedHosts      []string
	DefaultTimeoutMs  int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Tool belongs to a Server.
type Tool struct {
	ID                   string
	ServerID             string
	Name                 string
	Description          string
	Enabled              bool
	TimeoutMs            int
	ToolType             string
	PythonCode           string
	ExternalSourceID      string
	ExternalToolName      string
	InputSchema          string // raw JSON
	CodeDependencies     []string
	CurrentVersion       int
	ApprovalStatus       string
	ApprovalRequestedAt  *time.Time
	ApprovedAt           *time.Time
	ApprovedBy           string
	RejectionReason      string
	CreatedBy            string
	PublishNotes         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ToolVersion is an immutable snapshot of a Tool's versioned fields.
type ToolVersion struct {
	ID            string
	ToolID        string
	VersionNumber int
	Name          string
	Description   string
	Enabled       bool
	TimeoutMs     int
	PythonCode    string
	InputSchema   string
	ChangeSummary string
	ChangeSource  string
	CreatedAt     time.Time
}

// ServerSecret belongs to a Server.
type ServerSecret struct {
	ID              string
	ServerID        string
	KeyName         string
	EncryptedValue  *string
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExternalMCPSource describes an upstream MCP endpoint.
type ExternalMCPSource struct {
	ID                          string
	ServerID                    string
	Name                        string
	URL                         string
	AuthType                    string
	AuthSecretName              string
	AuthHeaderName              string
	TransportType               string
	Status                      string
	OAuthTokensEncrypted        string
	OAuthIssuer                 string
	OAuthClientID               string
	OAuthClientSecretEncrypted  string
	ToolCount                   int
	DiscoveredToolsCache        string // raw JSON array
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// ActivityLog is an append-only log entry.
type ActivityLog struct {
	ID         string
	ServerID   *string
	LogType    string
	Level      string
	Message    string
	Details    string // raw JSON
	RequestID  string
	DurationMs *int
	CreatedAt  time.Time
}

// ToolExecutionLog is an append-only execution record.
type ToolExecutionLog struct {
	ID         string
	ToolID     *string
	ServerID   *string
	ToolName   string
	InputArgs  string
	Result     string
	Error      string
	Stdout     string
	DurationMs int
	Success    bool
	IsTest     bool
	ExecutedBy string
	CreatedAt  time.Time
}

// ModuleRequest is a pending/approved/rejected whitelist request for a Python
// module import.
type ModuleRequest struct {
	ID               string
	ToolID           string
	Module           string
	Justification    string
	Status           string
	ReviewedBy       string
	ReviewedAt       *time.Time
	RejectionReason  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NetworkAccessRequest is a pending/approved/rejected request for outbound
// network access to a (host, port).
type NetworkAccessRequest struct {
	ID               string
	ToolID           string
	Host             string
	Port             *int
	Justification    string
	Status           string
	ReviewedBy       string
	ReviewedAt       *time.Time
	RejectionReason  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
