// Package assistant exposes the ledger services as named tools behind a
// confirmation gate, plus a keyword-routed chat front end.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"libris/internal/config"
	"libris/internal/domain"
	"libris/internal/metrics"
	"libris/internal/models"
	"libris/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Agent types recorded in the audit log.
const (
	AgentReceptionist     = "receptionist"
	AgentBooksOfficer     = "books_officer"
	AgentResourcesOfficer = "resources_officer"
)

// Result statuses.
const (
	StatusOK                   = "ok"
	StatusConfirmationRequired = "confirmation_required"
	StatusDeclined             = "declined"
)

const defaultHistoryLimit = 50

// Caller is the authenticated account a request acts for.
type Caller struct {
	AccountID  int64
	Privileged bool
}

type Confirmation struct {
	Token     string    `json:"token"`
	Summary   string    `json:"summary"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ToolResult struct {
	Tool         string        `json:"tool"`
	Status       string        `json:"status"`
	Code         domain.Code   `json:"code,omitempty"`
	Output       interface{}   `json:"output,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
}

type ChatReply struct {
	Intent string      `json:"intent"`
	Reply  string      `json:"reply"`
	Result *ToolResult `json:"result,omitempty"`
}

type Deps struct {
	Bookings  *service.BookingService
	Purchases *service.PurchaseService
	Catalog   *service.CatalogService
	State     *service.StateService
	Audit     domain.AuditLogger
}

type Assistant struct {
	bookings  *service.BookingService
	purchases *service.PurchaseService
	catalog   *service.CatalogService
	state     *service.StateService
	audit     domain.AuditLogger
	cfg       config.AssistantConfig
	logger    *zerolog.Logger
	tools     map[string]*tool
	now       func() time.Time
	newToken  func() string
}

func New(deps Deps, cfg config.AssistantConfig, logger *zerolog.Logger) *Assistant {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	a := &Assistant{
		bookings:  deps.Bookings,
		purchases: deps.Purchases,
		catalog:   deps.Catalog,
		state:     deps.State,
		audit:     deps.Audit,
		cfg:       cfg,
		logger:    logger,
		tools:     make(map[string]*tool),
		now:       time.Now,
		newToken:  uuid.NewString,
	}
	a.registerTools()
	return a
}

// SetClock replaces the time source used for defaults and expiry stamps.
func (a *Assistant) SetClock(now func() time.Time) {
	a.now = now
}

// Invoke runs a tool. Mutating tools are validated and parked as a pending
// action; they run only through Confirm.
func (a *Assistant) Invoke(ctx context.Context, caller Caller, name string, args models.ToolArgs) (*ToolResult, error) {
	if err := a.checkRateLimit(ctx, caller); err != nil {
		return nil, err
	}
	result, err := a.invoke(ctx, caller, name, args)
	a.record(ctx, caller, agentForTool(name), "tool:"+name, "", actionLog{Tool: name, Args: args, Result: result, Err: err})
	return result, err
}

func (a *Assistant) invoke(ctx context.Context, caller Caller, name string, args models.ToolArgs) (*ToolResult, error) {
	t, ok := a.tools[name]
	if !ok {
		return nil, domain.Newf(domain.CodeNotFound, "unknown tool %q", name)
	}
	if args == nil {
		args = models.ToolArgs{}
	}

	if t.mutating() {
		return a.park(ctx, caller, t, args)
	}
	return a.execute(ctx, caller, t, args)
}

func (a *Assistant) park(ctx context.Context, caller Caller, t *tool, args models.ToolArgs) (*ToolResult, error) {
	summary, err := t.prepare(ctx, caller, args)
	if err != nil {
		metrics.IncToolCall(t.name, string(domain.CodeOf(err)))
		return nil, err
	}

	pending := &models.PendingAction{
		Token:   a.newToken(),
		Tool:    t.name,
		Args:    args,
		Summary: summary,
	}
	if err := a.state.SetPending(ctx, caller.AccountID, pending); err != nil {
		return nil, domain.Wrap(domain.CodeInternal, err, "failed to store pending action")
	}
	metrics.IncToolCall(t.name, StatusConfirmationRequired)

	return &ToolResult{
		Tool:   t.name,
		Status: StatusConfirmationRequired,
		Code:   domain.CodeConfirmationRequired,
		Confirmation: &Confirmation{
			Token:     pending.Token,
			Summary:   summary,
			ExpiresAt: pending.CreatedAt.Add(a.cfg.SessionTTL),
		},
	}, nil
}

func (a *Assistant) execute(ctx context.Context, caller Caller, t *tool, args models.ToolArgs) (*ToolResult, error) {
	output, err := t.run(ctx, caller, args)
	if err != nil {
		metrics.IncToolCall(t.name, string(domain.CodeOf(err)))
		return nil, err
	}
	metrics.IncToolCall(t.name, StatusOK)
	return &ToolResult{Tool: t.name, Status: StatusOK, Output: output}, nil
}

// Confirm executes or discards the pending action identified by token.
func (a *Assistant) Confirm(ctx context.Context, caller Caller, token string, approve bool) (*ToolResult, error) {
	result, err := a.confirm(ctx, caller, token, approve)
	toolName := ""
	if result != nil {
		toolName = result.Tool
	}
	a.record(ctx, caller, agentForTool(toolName), "confirm:"+token, IntentConfirm,
		actionLog{Tool: toolName, Approve: &approve, Result: result, Err: err})
	return result, err
}

func (a *Assistant) confirm(ctx context.Context, caller Caller, token string, approve bool) (*ToolResult, error) {
	pending, err := a.state.TakePending(ctx, caller.AccountID, token)
	if err != nil {
		return nil, err
	}
	t, ok := a.tools[pending.Tool]
	if !ok {
		return nil, domain.Newf(domain.CodeNotFound, "unknown tool %q", pending.Tool)
	}
	if !approve {
		metrics.IncToolCall(t.name, StatusDeclined)
		return &ToolResult{Tool: t.name, Status: StatusDeclined}, nil
	}
	return a.execute(ctx, caller, t, pending.Args)
}

// Chat routes a free-text message to a tool by intent.
func (a *Assistant) Chat(ctx context.Context, caller Caller, message string) (*ChatReply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, domain.New(domain.CodeInvalidRequest, "message is required")
	}
	if err := a.checkRateLimit(ctx, caller); err != nil {
		return nil, err
	}

	intent := Classify(message)
	if err := a.state.RecordIntent(ctx, caller.AccountID, intent); err != nil {
		a.logger.Warn().Err(err).Int64("account_id", caller.AccountID).Msg("failed to record intent")
	}

	reply, err := a.chat(ctx, caller, intent, message)
	log := actionLog{Err: err}
	if reply != nil && reply.Result != nil {
		log.Tool = reply.Result.Tool
		log.Result = reply.Result
	}
	a.record(ctx, caller, agentForIntent(intent), message, intent, log)
	return reply, err
}

func (a *Assistant) chat(ctx context.Context, caller Caller, intent, message string) (*ChatReply, error) {
	reply := &ChatReply{Intent: intent}

	switch intent {
	case IntentConfirm, IntentDecline:
		session, err := a.state.GetSession(ctx, caller.AccountID)
		if err != nil {
			return nil, domain.Wrap(domain.CodeInternal, err, "failed to load session")
		}
		if session.Pending == nil {
			reply.Reply = "There is nothing waiting for confirmation."
			return reply, nil
		}
		result, err := a.confirm(ctx, caller, session.Pending.Token, intent == IntentConfirm)
		if err != nil {
			return nil, err
		}
		reply.Result = result
		if result.Status == StatusDeclined {
			reply.Reply = "Okay, I dropped that request."
		} else {
			reply.Reply = "Done."
		}
		return reply, nil

	case IntentBooks:
		args := models.ToolArgs{}
		if q := quotedQuery(message); q != "" {
			args["q"] = q
		}
		return a.chatTool(ctx, caller, reply, ToolListBooks, args, "Here is what the catalog has.")

	case IntentResources:
		return a.chatTool(ctx, caller, reply, ToolListResources, models.ToolArgs{}, "These resources can be booked.")

	case IntentBookings:
		return a.chatTool(ctx, caller, reply, ToolListUserBookings, models.ToolArgs{}, "These are your upcoming reservations.")

	case IntentBalance:
		return a.chatTool(ctx, caller, reply, ToolGetBalance, models.ToolArgs{}, "Here is your balance.")

	default:
		reply.Reply = "I can search books, list rooms and desks, show your reservations and balance. " +
			"Purchases, bookings and cancellations go through the tools endpoint and need your confirmation."
		return reply, nil
	}
}

func (a *Assistant) chatTool(ctx context.Context, caller Caller, reply *ChatReply, name string, args models.ToolArgs, text string) (*ChatReply, error) {
	result, err := a.invoke(ctx, caller, name, args)
	if err != nil {
		return nil, err
	}
	reply.Reply = text
	reply.Result = result
	return reply, nil
}

// History returns the caller's audit trail, newest first.
func (a *Assistant) History(ctx context.Context, caller Caller, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}
	logs, err := a.audit.ListAudit(ctx, caller.AccountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (a *Assistant) checkRateLimit(ctx context.Context, caller Caller) error {
	allowed, err := a.state.CheckRateLimit(ctx, caller.AccountID, a.cfg.RateLimitMessages, a.cfg.RateLimitWindow)
	if err != nil {
		a.logger.Warn().Err(err).Int64("account_id", caller.AccountID).Msg("rate limit check failed, allowing")
		return nil
	}
	if !allowed {
		return domain.Newf(domain.CodeRateLimited, "at most %d assistant requests per %s", a.cfg.RateLimitMessages, a.cfg.RateLimitWindow)
	}
	return nil
}

type actionLog struct {
	Tool    string          `json:"tool,omitempty"`
	Args    models.ToolArgs `json:"args,omitempty"`
	Approve *bool           `json:"approve,omitempty"`
	Result  *ToolResult     `json:"-"`
	Err     error           `json:"-"`
}

type actionRecord struct {
	Tool    string          `json:"tool,omitempty"`
	Args    models.ToolArgs `json:"args,omitempty"`
	Approve *bool           `json:"approve,omitempty"`
	Status  string          `json:"status"`
	Code    domain.Code     `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// record writes the audit row. Audit failures are logged, never returned.
func (a *Assistant) record(ctx context.Context, caller Caller, agent, input, intent string, log actionLog) {
	if a.audit == nil {
		return
	}

	rec := actionRecord{Tool: log.Tool, Args: log.Args, Approve: log.Approve, Status: StatusOK}
	if log.Result != nil {
		rec.Status = log.Result.Status
		rec.Code = log.Result.Code
	}
	if log.Err != nil {
		rec.Status = "error"
		rec.Code = domain.CodeOf(log.Err)
		rec.Error = log.Err.Error()
	}
	actions, err := json.Marshal([]actionRecord{rec})
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to encode audit actions")
		actions = nil
	}
	metadata, _ := json.Marshal(map[string]interface{}{"privileged": caller.Privileged})

	entry := &models.AuditLog{
		AccountID:      caller.AccountID,
		AgentType:      agent,
		InputText:      input,
		DetectedIntent: intent,
		ActionsTaken:   actions,
		Metadata:       metadata,
		CreatedAt:      a.now().UTC(),
	}
	if err := a.audit.AppendAudit(ctx, entry); err != nil {
		a.logger.Warn().Err(err).Int64("account_id", caller.AccountID).Msg("failed to write audit log")
	}
}

func agentForIntent(intent string) string {
	switch intent {
	case IntentBooks:
		return AgentBooksOfficer
	case IntentResources, IntentBookings, IntentBalance:
		return AgentResourcesOfficer
	default:
		return AgentReceptionist
	}
}

func agentForTool(name string) string {
	switch name {
	case ToolListBooks, ToolGetBook, ToolPurchaseBook:
		return AgentBooksOfficer
	case "":
		return AgentReceptionist
	default:
		return AgentResourcesOfficer
	}
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
