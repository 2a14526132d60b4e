// Package approvals implements the tool lifecycle state machine, version
// snapshotting, and the module/network access request workflows (§4.8).
package approvals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/activity"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// Settings keys governing approval behavior.
const (
	SettingToolApprovalMode = "tool_approval_mode"

	ModeAutoApprove     = "auto_approve"
	ModeRequireApproval = "require_approval" // default when the key is unset
)

// ErrInvalidTransition is returned when a lifecycle method is called from a
// state it cannot be called from (e.g. approve_tool on a draft tool).
var ErrInvalidTransition = errors.New("approvals: invalid state transition")

// PackageInstaller is the subset of sandbox.Client a module-request approval
// uses to best-effort install the newly-whitelisted package. Kept as a local
// interface, mirroring the gateway package's pattern of small dependency
// seams instead of importing sandbox's full surface.
type PackageInstaller interface {
	InstallPackage(ctx context.Context, name, version string) (*PackageStatusResult, error)
}

// PackageStatusResult mirrors sandbox.PackageStatusResult's fields this
// package needs.
type PackageStatusResult struct {
	Status  string
	Message string
}

// Service implements the approval state machine and versioning rules on top
// of the store.
type Service struct {
	db        *store.Store
	settings  settings.Store
	installer PackageInstaller
	activity  *activity.Logger
}

// New constructs a Service. installer and log may be nil (e.g. in tests);
// a nil installer skips the best-effort package install on module approval,
// and a nil log skips alert logging.
func New(db *store.Store, st settings.Store, installer PackageInstaller, log *activity.Logger) *Service {
	return &Service{db: db, settings: st, installer: installer, activity: log}
}

// ApprovedEnabledToolNames implements gateway.ApprovedToolSet: the set of
// server_name__tool_name keys currently enabled, approved, and served by a
// running server (§3 invariant 1), matching the naming the management
// service uses when it registers tools with the sandbox.
func (s *Service) ApprovedEnabledToolNames(ctx context.Context) (map[string]bool, error) {
	tools, err := s.db.ListApprovedEnabledTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list approved enabled tools: %w", err)
	}
	serverNames := make(map[string]string)
	out := make(map[string]bool, len(tools))
	for _, t := range tools {
		name, ok := serverNames[t.ServerID]
		if !ok {
			srv, err := s.db.GetServer(ctx, t.ServerID)
			if err != nil {
				return nil, fmt.Errorf("get server %q: %w", t.ServerID, err)
			}
			name = srv.Name
			serverNames[t.ServerID] = name
		}
		out[name+"__"+t.Name] = true
	}
	return out, nil
}

func (s *Service) toolApprovalMode(ctx context.Context) string {
	v, err := s.settings.Get(ctx, SettingToolApprovalMode)
	if err != nil || v == "" {
		return ModeRequireApproval
	}
	return v
}

// CreateTool inserts a new draft Tool and writes its version-1 snapshot.
func (s *Service) CreateTool(ctx context.Context, t *store.Tool, changeSource string) (*store.Tool, error) {
	t.ApprovalStatus = store.ApprovalDraft
	t.CurrentVersion = 1
	created, err := s.db.CreateTool(ctx, t)
	if err != nil {
		return nil, err
	}
	created.CurrentVersion = 1
	if err := s.db.UpdateTool(ctx, created); err != nil {
		return nil, fmt.Errorf("set initial current_version: %w", err)
	}
	if changeSource == "" {
		changeSource = "manual"
	}
	_, err = s.db.CreateToolVersion(ctx, &store.ToolVersion{
		ToolID:        created.ID,
		VersionNumber: 1,
		Name:          created.Name,
		Description:   created.Description,
		Enabled:       created.Enabled,
		TimeoutMs:     created.TimeoutMs,
		PythonCode:    created.PythonCode,
		InputSchema:   created.InputSchema,
		ChangeSummary: "initial version",
		ChangeSource:  changeSource,
	})
	if err != nil {
		return nil, fmt.Errorf("write initial tool version: %w", err)
	}
	return created, nil
}

// RequestPublish moves a tool from draft|rejected to pending_review, or
// straight to approved when tool_approval_mode is auto_approve.
func (s *Service) RequestPublish(ctx context.Context, toolID string) (*store.Tool, error) {
	t, err := s.db.GetTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if t.ApprovalStatus != store.ApprovalDraft && t.ApprovalStatus != store.ApprovalRejected {
		return nil, fmt.Errorf("%w: request_publish requires draft or rejected, got %q", ErrInvalidTransition, t.ApprovalStatus)
	}

	now := time.Now().UTC()
	t.ApprovalRequestedAt = &now
	t.RejectionReason = ""

	if s.toolApprovalMode(ctx) == ModeAutoApprove {
		t.ApprovalStatus = store.ApprovalApproved
		t.ApprovedAt = &now
		t.ApprovedBy = "auto_approve"
	} else {
		t.ApprovalStatus = store.ApprovalPendingReview
	}

	if err := s.db.UpdateTool(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ApproveTool moves a tool from pending_review to approved.
func (s *Service) ApproveTool(ctx context.Context, toolID, approvedBy string) (*store.Tool, error) {
	t, err := s.db.GetTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if t.ApprovalStatus != store.ApprovalPendingReview {
		return nil, fmt.Errorf("%w: approve_tool requires pending_review, got %q", ErrInvalidTransition, t.ApprovalStatus)
	}
	now := time.Now().UTC()
	t.ApprovalStatus = store.ApprovalApproved
	t.ApprovedAt = &now
	t.ApprovedBy = approvedBy
	t.RejectionReason = ""
	if err := s.db.UpdateTool(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RejectTool moves a tool from pending_review to rejected. reason is required.
func (s *Service) RejectTool(ctx context.Context, toolID, reason string) (*store.Tool, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errors.New("approvals: reject_tool requires a reason")
	}
	t, err := s.db.GetTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if t.ApprovalStatus != store.ApprovalPendingReview {
		return nil, fmt.Errorf("%w: reject_tool requires pending_review, got %q", ErrInvalidTransition, t.ApprovalStatus)
	}
	t.ApprovalStatus = store.ApprovalRejected
	t.RejectionReason = reason
	if err := s.db.UpdateTool(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RevokeToolApproval moves a tool from approved back to pending_review.
func (s *Service) RevokeToolApproval(ctx context.Context, toolID string) (*store.Tool, error) {
	t, err := s.db.GetTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if t.ApprovalStatus != store.ApprovalApproved {
		return nil, fmt.Errorf("%w: revoke_tool_approval requires approved, got %q", ErrInvalidTransition, t.ApprovalStatus)
	}
	t.ApprovalStatus = store.ApprovalPendingReview
	t.ApprovedAt = nil
	t.ApprovedBy = ""
	if err := s.db.UpdateTool(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ToolPatch carries the subset of mutable Tool fields an update touches;
// nil fields are left unchanged.
type ToolPatch struct {
	Name             *string
	Description      *string
	Enabled          *bool
	TimeoutMs        *int
	PythonCode       *string
	InputSchema      *string
	CodeDependencies []string // nil means "leave unchanged"
	ChangeSource     string   // defaults to "llm"
}

// UpdateResult reports what UpdateTool actually did, so callers (the
// management dispatcher) know whether a sandbox re-registration is needed.
type UpdateResult struct {
	Tool        *store.Tool
	Changed     bool
	MCPVisible  bool // name/description/enabled/timeout/python_code/schema changed
	CodeChanged bool
}

// UpdateTool applies patch to a tool per the §4.8 safety-coupling rules: a
// python_code change always forces pending_review; name/description/enabled/
// timeout_ms-only changes preserve approval_status; a patch whose values all
// equal the current ones is a no-op that skips versioning entirely.
func (s *Service) UpdateTool(ctx context.Context, toolID string, patch ToolPatch) (*UpdateResult, error) {
	t, err := s.db.GetTool(ctx, toolID)
	if err != nil {
		return nil, err
	}

	var changedFields []string
	codeChanged := false

	if patch.Name != nil && *patch.Name != t.Name {
		t.Name = *patch.Name
		changedFields = append(changedFields, "name")
	}
	if patch.Description != nil && *patch.Description != t.Description {
		t.Description = *patch.Description
		changedFields = append(changedFields, "description")
	}
	if patch.Enabled != nil && *patch.Enabled != t.Enabled {
		t.Enabled = *patch.Enabled
		changedFields = append(changedFields, "enabled")
	}
	if patch.TimeoutMs != nil && *patch.TimeoutMs != t.TimeoutMs {
		t.TimeoutMs = *patch.TimeoutMs
		changedFields = append(changedFields, "timeout_ms")
	}
	if patch.PythonCode != nil && *patch.PythonCode != t.PythonCode {
		t.PythonCode = *patch.PythonCode
		changedFields = append(changedFields, "python_code")
		codeChanged = true
	}
	if patch.InputSchema != nil && *patch.InputSchema != t.InputSchema {
		t.InputSchema = *patch.InputSchema
		changedFields = append(changedFields, "input_schema")
	}
	if patch.CodeDependencies != nil && !equalStringSlices(patch.CodeDependencies, t.CodeDependencies) {
		t.CodeDependencies = patch.CodeDependencies
		changedFields = append(changedFields, "code_dependencies")
	}

	if len(changedFields) == 0 {
		return &UpdateResult{Tool: t, Changed: false}, nil
	}

	if codeChanged {
		now := time.Now().UTC()
		t.ApprovalStatus = store.ApprovalPendingReview
		t.ApprovalRequestedAt = &now
		t.ApprovedAt = nil
		t.ApprovedBy = ""
		t.RejectionReason = ""
	}

	t.CurrentVersion++
	if err := s.db.UpdateTool(ctx, t); err != nil {
		return nil, err
	}

	changeSource := patch.ChangeSource
	if changeSource == "" {
		changeSource = "llm"
	}
	sort.Strings(changedFields)
	_, err = s.db.CreateToolVersion(ctx, &store.ToolVersion{
		ToolID:        t.ID,
		VersionNumber: t.CurrentVersion,
		Name:          t.Name,
		Description:   t.Description,
		Enabled:       t.Enabled,
		TimeoutMs:     t.TimeoutMs,
		PythonCode:    t.PythonCode,
		InputSchema:   t.InputSchema,
		ChangeSummary: "changed: " + strings.Join(changedFields, ", "),
		ChangeSource:  changeSource,
	})
	if err != nil {
		return nil, fmt.Errorf("write tool version: %w", err)
	}

	mcpVisible := false
	for _, f := range changedFields {
		if f != "code_dependencies" {
			mcpVisible = true
			break
		}
	}

	return &UpdateResult{Tool: t, Changed: true, MCPVisible: mcpVisible, CodeChanged: codeChanged}, nil
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RollbackTool creates a new version whose content equals the chosen old
// version's, always resetting approval_status to pending_review — rollback
// bypasses the no-op skip rule since it is an explicit new snapshot.
func (s *Service) RollbackTool(ctx context.Context, toolID string, versionNumber int) (*store.Tool, error) {
	t, err := s.db.GetTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	v, err := s.db.GetToolVersion(ctx, toolID, versionNumber)
	if err != nil {
		return nil, err
	}

	t.Name = v.Name
	t.Description = v.Description
	t.Enabled = v.Enabled
	t.TimeoutMs = v.TimeoutMs
	t.PythonCode = v.PythonCode
	t.InputSchema = v.InputSchema

	now := time.Now().UTC()
	t.ApprovalStatus = store.ApprovalPendingReview
	t.ApprovalRequestedAt = &now
	t.ApprovedAt = nil
	t.ApprovedBy = ""
	t.RejectionReason = ""
	t.CurrentVersion++

	if err := s.db.UpdateTool(ctx, t); err != nil {
		return nil, err
	}
	_, err = s.db.CreateToolVersion(ctx, &store.ToolVersion{
		ToolID:        t.ID,
		VersionNumber: t.CurrentVersion,
		Name:          t.Name,
		Description:   t.Description,
		Enabled:       t.Enabled,
		TimeoutMs:     t.TimeoutMs,
		PythonCode:    t.PythonCode,
		InputSchema:   t.InputSchema,
		ChangeSummary: fmt.Sprintf("rollback to version %d", versionNumber),
		ChangeSource:  "rollback",
	})
	if err != nil {
		return nil, fmt.Errorf("write rollback tool version: %w", err)
	}
	return t, nil
}
