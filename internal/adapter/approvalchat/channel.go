// Package approvalchat implements the Approval Channel port
// (internal/port/approval) as a small admin-console transport, grounded on
// the teacher's own coder/websocket Hub (internal/adapter/ws/handler.go)
// generalized from a fire-and-forget broadcast into a paired, bidirectional
// approval surface with a batched activity digest.
package approvalchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/portero-gateway/portero/internal/domain/admin"
	"github.com/portero-gateway/portero/internal/domain/grant"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/port/approval"
	"github.com/portero-gateway/portero/internal/port/notifier"
	"github.com/portero-gateway/portero/internal/port/store"
)

// PairingStore is the subset of the State Store the channel needs to
// persist which chat principal is currently paired.
type PairingStore interface {
	GetPairing(ctx context.Context) (admin.Pairing, error)
	SetPairing(ctx context.Context, p admin.Pairing) error
}

// AdminStore is the full subset of the State Store the paired admin console
// can drive once pairing is confirmed: grant and dynamic-rule management,
// task listing, and the audit trail, on top of the pairing record itself.
type AdminStore interface {
	PairingStore
	CreateGrant(ctx context.Context, g *grant.Grant) error
	ListGrants(ctx context.Context, limit int) ([]*grant.Grant, error)
	RemoveGrant(ctx context.Context, id string) error
	UpsertRule(ctx context.Context, pattern string, action policy.Action) (*policy.DynamicRule, error)
	ListRules(ctx context.Context, limit int) ([]*policy.DynamicRule, error)
	RemoveRule(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*task.Task, error)
	ListAudit(ctx context.Context, limit int) ([]store.AuditRecord, error)
}

// inboundMessage is the envelope an admin console connection sends. Not
// every field applies to every Type; unused fields are left zero.
type inboundMessage struct {
	Type       string `json:"type"`
	ChatID     string `json:"chat_id,omitempty"`
	Secret     string `json:"secret,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	Approve    bool   `json:"approve,omitempty"`
	SideEffect string `json:"side_effect,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	Action     string `json:"action,omitempty"`
	GrantID    string `json:"grant_id,omitempty"`
	RuleID     string `json:"rule_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// outboundMessage is the envelope pushed to admin console connections.
type outboundMessage struct {
	Type    string      `json:"type"`
	Handle  string      `json:"handle,omitempty"`
	Text    string      `json:"text,omitempty"`
	Notices []noticeDTO `json:"notices,omitempty"`
	Payload any         `json:"payload,omitempty"`
}

type noticeDTO struct {
	Status   string `json:"status"`
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
	At       string `json:"at"`
}

type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Channel is the websocket-backed implementation of approval.Channel.
type Channel struct {
	store             AdminStore
	pairingSecretHash string
	logger            *slog.Logger

	digestWindow     time.Duration
	digestMaxNotices int

	mu    sync.Mutex
	conns map[*conn]struct{}

	decisions chan approval.Decision

	noticeMu sync.Mutex
	notices  []approval.Notice
	flush    *time.Timer

	fallback notifier.Notifier
}

// New builds an unstarted Channel. pairingSecretHash is a bcrypt hash of the
// shared pairing secret; an empty hash makes every "pair" attempt fail
// closed rather than accept an unverified principal. Notice batching needs
// no separate start call: Notify arms the digest flush timer itself.
func New(store AdminStore, pairingSecretHash string, digestWindow time.Duration, digestMaxNotices int, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if pairingSecretHash == "" {
		logger.Warn("approval channel built with no pairing secret hash configured; pairing is disabled")
	}
	return &Channel{
		store:             store,
		pairingSecretHash: pairingSecretHash,
		logger:            logger,
		digestWindow:      digestWindow,
		digestMaxNotices:  digestMaxNotices,
		conns:             make(map[*conn]struct{}),
		decisions:         make(chan approval.Decision, 64),
	}
}

var _ approval.Channel = (*Channel)(nil)

// SetFallbackNotifier configures a secondary notifier.Notifier the channel
// echoes approval requests and digests to, for visibility when no admin
// console websocket is currently connected. Nil disables the fallback.
func (c *Channel) SetFallbackNotifier(n notifier.Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = n
}

func (c *Channel) sendFallback(ctx context.Context, n notifier.Notification) {
	c.mu.Lock()
	fb := c.fallback
	c.mu.Unlock()
	if fb == nil {
		return
	}
	if err := fb.Send(ctx, n); err != nil {
		c.logger.Warn("fallback notifier send failed", "notifier", fb.Name(), "error", err)
	}
}

// HandleWS upgrades an HTTP connection to the admin console's websocket
// transport and pumps inbound pairing/decision messages until disconnect.
func (c *Channel) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		c.logger.Error("approval channel accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	cn := &conn{ws: ws, cancel: cancel}

	c.mu.Lock()
	c.conns[cn] = struct{}{}
	c.mu.Unlock()

	c.logger.Info("admin console connected", "remote", r.RemoteAddr)

	defer func() {
		c.remove(cn)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		c.handleInbound(ctx, data)
	}
}

// handleInbound dispatches one decoded admin console message. An unpaired
// channel accepts exactly two message types: "whoami" (identity disclosure)
// and "pair"; every other type requires the channel to already be paired,
// and is additionally gated to the paired principal in handleAdminCommand.
func (c *Channel) handleInbound(ctx context.Context, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("admin console sent malformed message", "error", err)
		return
	}

	switch msg.Type {
	case "whoami":
		c.handleWhoami(ctx)
	case "pair":
		c.handlePair(ctx, msg)
	case "decision":
		c.decisions <- approval.Decision{
			TaskID:     msg.TaskID,
			Approve:    msg.Approve,
			Principal:  msg.ChatID,
			SideEffect: approval.SideEffect(msg.SideEffect),
		}
	case "status", "grant_create", "grant_revoke", "rule_upsert", "rule_list", "rule_remove", "task_list", "audit_recent":
		c.handleAdminCommand(ctx, msg)
	default:
		c.logger.Warn("admin console sent unknown message type", "type", msg.Type)
	}
}

// handleWhoami answers the identity-disclosure command any client, paired
// or not, may send: it reports whether the channel is paired and, if so, to
// which principal, without ever exposing the pairing secret.
func (c *Channel) handleWhoami(ctx context.Context) {
	pairing, err := c.store.GetPairing(ctx)
	if err != nil {
		c.logger.Error("whoami could not load pairing state", "error", err)
		return
	}
	payload := map[string]any{"paired": pairing.Paired()}
	if pairing.Paired() {
		payload["chat_id"] = pairing.ChatID
		payload["paired_at"] = pairing.PairedAt.Format(time.RFC3339)
	}
	c.broadcast(ctx, outboundMessage{Type: "identity", Payload: payload})
}

// handlePair implements the channel's single-use pairing exchange: a
// channel that is already paired refuses a second "pair" outright, and an
// incorrect secret never reaches SetPairing.
func (c *Channel) handlePair(ctx context.Context, msg inboundMessage) {
	pairing, err := c.store.GetPairing(ctx)
	if err != nil {
		c.logger.Error("pairing failed to load current state", "error", err)
		return
	}
	if pairing.Paired() {
		c.logger.Warn("admin console attempted to re-pair an already-paired channel", "chat_id", msg.ChatID)
		c.broadcast(ctx, outboundMessage{Type: "pair_rejected", Text: "channel is already paired"})
		return
	}
	if !c.verifySecret(msg.Secret) {
		c.logger.Warn("admin console sent an incorrect pairing secret", "chat_id", msg.ChatID)
		c.broadcast(ctx, outboundMessage{Type: "pair_rejected", Text: "incorrect pairing secret"})
		return
	}
	if err := c.store.SetPairing(ctx, admin.Pairing{ChatID: msg.ChatID, PairedAt: time.Now()}); err != nil {
		c.logger.Error("pairing failed", "error", err)
		return
	}
	c.logger.Info("admin console paired", "chat_id", msg.ChatID)
	c.broadcast(ctx, outboundMessage{Type: "paired", Text: "pairing confirmed"})
}

// verifySecret compares secret against the configured bcrypt hash. An
// unconfigured hash refuses every attempt rather than pairing an
// unverified principal.
func (c *Channel) verifySecret(secret string) bool {
	if c.pairingSecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.pairingSecretHash), []byte(secret)) == nil
}

// handleAdminCommand gates every admin command on the channel already being
// paired and the sender matching the paired principal, then dispatches to
// the specific handler.
func (c *Channel) handleAdminCommand(ctx context.Context, msg inboundMessage) {
	pairing, err := c.store.GetPairing(ctx)
	if err != nil {
		c.logger.Error("admin command could not load pairing state", "type", msg.Type, "error", err)
		return
	}
	if !pairing.Paired() || msg.ChatID != pairing.ChatID {
		c.logger.Warn("admin command from unauthorized principal ignored", "type", msg.Type, "chat_id", msg.ChatID)
		return
	}

	switch msg.Type {
	case "status":
		c.handleStatus(ctx)
	case "grant_create":
		c.handleGrantCreate(ctx, msg)
	case "grant_revoke":
		c.handleGrantRevoke(ctx, msg)
	case "rule_upsert":
		c.handleRuleUpsert(ctx, msg)
	case "rule_list":
		c.handleRuleList(ctx)
	case "rule_remove":
		c.handleRuleRemove(ctx, msg)
	case "task_list":
		c.handleTaskList(ctx, msg)
	case "audit_recent":
		c.handleAuditRecent(ctx, msg)
	}
}

// handleStatus answers the admin console's status-summary command: how many
// tasks are waiting on a decision, how many grants are currently active,
// and how many dynamic rules exist.
func (c *Channel) handleStatus(ctx context.Context) {
	pendingStatus := task.StatusPendingApproval
	pending, err := c.store.ListTasks(ctx, store.TaskFilter{Status: &pendingStatus})
	if err != nil {
		c.logger.Error("status command failed to list pending tasks", "error", err)
		return
	}
	grants, err := c.store.ListGrants(ctx, 0)
	if err != nil {
		c.logger.Error("status command failed to list grants", "error", err)
		return
	}
	rules, err := c.store.ListRules(ctx, 0)
	if err != nil {
		c.logger.Error("status command failed to list rules", "error", err)
		return
	}

	now := time.Now()
	activeGrants := 0
	for _, g := range grants {
		if g.Active(now) {
			activeGrants++
		}
	}
	c.broadcast(ctx, outboundMessage{Type: "status", Payload: map[string]any{
		"pending_approval": len(pending),
		"active_grants":    activeGrants,
		"dynamic_rules":    len(rules),
	}})
}

func (c *Channel) handleGrantCreate(ctx context.Context, msg inboundMessage) {
	if msg.Pattern == "" {
		c.logger.Warn("grant_create requires a pattern")
		return
	}
	ttl := time.Duration(msg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	g := &grant.Grant{ID: uuid.NewString(), Pattern: msg.Pattern, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := c.store.CreateGrant(ctx, g); err != nil {
		c.logger.Error("grant_create failed", "pattern", msg.Pattern, "error", err)
		return
	}
	c.broadcast(ctx, outboundMessage{Type: "grant_created", Payload: g})
}

func (c *Channel) handleGrantRevoke(ctx context.Context, msg inboundMessage) {
	if msg.GrantID == "" {
		c.logger.Warn("grant_revoke requires a grant_id")
		return
	}
	if err := c.store.RemoveGrant(ctx, msg.GrantID); err != nil {
		c.logger.Error("grant_revoke failed", "grant_id", msg.GrantID, "error", err)
		return
	}
	c.broadcast(ctx, outboundMessage{Type: "grant_revoked", Text: msg.GrantID})
}

func (c *Channel) handleRuleUpsert(ctx context.Context, msg inboundMessage) {
	if msg.Pattern == "" || msg.Action == "" {
		c.logger.Warn("rule_upsert requires a pattern and an action")
		return
	}
	rule, err := c.store.UpsertRule(ctx, msg.Pattern, policy.Action(msg.Action))
	if err != nil {
		c.logger.Error("rule_upsert failed", "pattern", msg.Pattern, "error", err)
		return
	}
	c.broadcast(ctx, outboundMessage{Type: "rule_upserted", Payload: rule})
}

func (c *Channel) handleRuleList(ctx context.Context) {
	rules, err := c.store.ListRules(ctx, 0)
	if err != nil {
		c.logger.Error("rule_list failed", "error", err)
		return
	}
	c.broadcast(ctx, outboundMessage{Type: "rule_list", Payload: rules})
}

func (c *Channel) handleRuleRemove(ctx context.Context, msg inboundMessage) {
	if msg.RuleID == "" {
		c.logger.Warn("rule_remove requires a rule_id")
		return
	}
	if err := c.store.RemoveRule(ctx, msg.RuleID); err != nil {
		c.logger.Error("rule_remove failed", "rule_id", msg.RuleID, "error", err)
		return
	}
	c.broadcast(ctx, outboundMessage{Type: "rule_removed", Text: msg.RuleID})
}

func (c *Channel) handleTaskList(ctx context.Context, msg inboundMessage) {
	var filter store.TaskFilter
	if msg.Status != "" {
		st := task.Status(msg.Status)
		filter.Status = &st
	}
	filter.Limit = msg.Limit

	tasks, err := c.store.ListTasks(ctx, filter)
	if err != nil {
		c.logger.Error("task_list failed", "error", err)
		return
	}
	c.broadcast(ctx, outboundMessage{Type: "task_list", Payload: tasks})
}

func (c *Channel) handleAuditRecent(ctx context.Context, msg inboundMessage) {
	limit := msg.Limit
	if limit <= 0 {
		limit = 20
	}
	records, err := c.store.ListAudit(ctx, limit)
	if err != nil {
		c.logger.Error("audit_recent failed", "error", err)
		return
	}
	c.broadcast(ctx, outboundMessage{Type: "audit_recent", Payload: records})
}

func (c *Channel) remove(cn *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conns[cn]; ok {
		cn.cancel()
		delete(c.conns, cn)
		c.logger.Info("admin console disconnected")
	}
}

// RequestApproval implements approval.Channel.
func (c *Channel) RequestApproval(ctx context.Context, t *task.Task) (string, error) {
	handle := uuid.NewString()
	text := renderApprovalMessage(t)
	c.broadcast(ctx, outboundMessage{Type: "approval_request", Handle: handle, Text: text})
	c.sendFallback(ctx, notifier.Notification{
		Title:   "Approval requested",
		Message: text,
		Level:   "warning",
		Source:  "task.pending_approval",
	})
	return handle, nil
}

// Notify implements approval.Channel, enqueueing n for the next digest
// flush and arming the flush timer on the first notice of a batch.
func (c *Channel) Notify(_ context.Context, n approval.Notice) {
	c.noticeMu.Lock()
	defer c.noticeMu.Unlock()

	c.notices = append(c.notices, n)
	if len(c.notices) >= c.digestMaxNotices {
		c.flushLocked()
		return
	}
	if c.flush == nil {
		c.flush = time.AfterFunc(c.digestWindow, c.flushDigest)
	}
}

func (c *Channel) flushDigest() {
	c.noticeMu.Lock()
	defer c.noticeMu.Unlock()
	c.flushLocked()
}

// flushLocked must be called with noticeMu held.
func (c *Channel) flushLocked() {
	if c.flush != nil {
		c.flush.Stop()
		c.flush = nil
	}
	if len(c.notices) == 0 {
		return
	}
	dtos := make([]noticeDTO, len(c.notices))
	var summary strings.Builder
	for i, n := range c.notices {
		dtos[i] = noticeDTO{Status: n.Status, ToolName: n.ToolName, Reason: n.Reason, At: n.At.Format(time.RFC3339)}
		fmt.Fprintf(&summary, "- [%s] %s", n.Status, n.ToolName)
		if n.Reason != "" {
			fmt.Fprintf(&summary, ": %s", n.Reason)
		}
		summary.WriteByte('\n')
	}
	c.notices = nil
	ctx := context.Background()
	c.broadcast(ctx, outboundMessage{Type: "digest", Notices: dtos})
	c.sendFallback(ctx, notifier.Notification{
		Title:   "Activity digest",
		Message: summary.String(),
		Level:   "info",
		Source:  "digest.flush",
	})
}

// Decisions implements approval.Channel.
func (c *Channel) Decisions() <-chan approval.Decision { return c.decisions }

// Paired implements approval.Channel.
func (c *Channel) Paired(ctx context.Context) (bool, error) {
	p, err := c.store.GetPairing(ctx)
	if err != nil {
		return false, err
	}
	return p.Paired(), nil
}

func (c *Channel) broadcast(ctx context.Context, msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("approval channel marshal failed", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for cn := range c.conns {
		if err := cn.ws.Write(ctx, websocket.MessageText, data); err != nil {
			c.logger.Debug("approval channel write failed", "error", err)
			go c.remove(cn)
		}
	}
}

// WarnIfUnpairedAfter schedules a one-shot warning if the channel has not
// confirmed pairing within d of the call.
func (c *Channel) WarnIfUnpairedAfter(ctx context.Context, d time.Duration) {
	time.AfterFunc(d, func() {
		paired, err := c.Paired(ctx)
		if err != nil {
			c.logger.Warn("could not determine pairing state at startup deadline", "error", err)
			return
		}
		if !paired {
			c.logger.Warn("approval channel still unpaired after startup grace period", "grace_period", d)
		}
	})
}
