package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/tenantagent/internal/config"
	"github.com/haasonsaas/tenantagent/pkg/models"
)

// ApprovalDecision represents the result of an approval check for a tool call.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalPending ApprovalDecision = "pending"
)

var (
	// ErrApprovalNotFound is returned when an approval id is unknown.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrApprovalDecided is returned when deciding a request twice.
	ErrApprovalDecided = errors.New("approval request already decided")
)

// ApprovalRequest is a tool call waiting for a human decision. Once decided
// it is consumed by the next matching call in the same conversation.
type ApprovalRequest struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	ToolCallID     string           `json:"tool_call_id"`
	ToolName       string           `json:"tool_name"`
	Input          json.RawMessage  `json:"input,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at,omitempty"`
	Decision       ApprovalDecision `json:"decision"`
	DecidedAt      time.Time        `json:"decided_at,omitempty"`
	DecidedBy      string           `json:"decided_by,omitempty"`
	Consumed       bool             `json:"consumed,omitempty"`
}

// ApprovalPolicy configures approval behavior. Patterns support exact
// names, "*", "prefix*" and "*suffix".
type ApprovalPolicy struct {
	Allowlist       []string
	Denylist        []string
	RequireApproval []string
	DefaultDecision ApprovalDecision
	RequestTTL      time.Duration
}

// DefaultApprovalPolicy allows everything.
func DefaultApprovalPolicy() *ApprovalPolicy {
	return &ApprovalPolicy{
		DefaultDecision: ApprovalAllowed,
		RequestTTL:      time.Hour,
	}
}

// ApprovalPolicyFromConfig converts the configured policy.
func ApprovalPolicyFromConfig(cfg config.ApprovalConfig) *ApprovalPolicy {
	policy := &ApprovalPolicy{
		Allowlist:       append([]string(nil), cfg.Allowlist...),
		Denylist:        append([]string(nil), cfg.Denylist...),
		RequireApproval: append([]string(nil), cfg.RequireApproval...),
		DefaultDecision: ApprovalDecision(cfg.DefaultDecision),
		RequestTTL:      cfg.RequestTTL,
	}
	return normalizeApprovalPolicy(policy)
}

// ApprovalStore persists approval requests.
type ApprovalStore interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	Update(ctx context.Context, req *ApprovalRequest) error
	ListPending(ctx context.Context, conversationID string) ([]*ApprovalRequest, error)

	// FindDecided returns an unconsumed decided request for the same
	// conversation, tool and canonical input, or nil.
	FindDecided(ctx context.Context, conversationID, toolName string, input json.RawMessage) (*ApprovalRequest, error)

	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ApprovalChecker evaluates tool calls against the policy and the decisions
// already recorded for the conversation.
type ApprovalChecker struct {
	mu     sync.RWMutex
	policy *ApprovalPolicy
	store  ApprovalStore
	now    func() time.Time
}

// NewApprovalChecker creates a checker. A nil policy allows everything; a
// nil store keeps requests in memory.
func NewApprovalChecker(policy *ApprovalPolicy, store ApprovalStore) *ApprovalChecker {
	if store == nil {
		store = NewMemoryApprovalStore()
	}
	return &ApprovalChecker{
		policy: normalizeApprovalPolicy(policy),
		store:  store,
		now:    time.Now,
	}
}

// Policy returns the effective policy. Treat it as read-only.
func (c *ApprovalChecker) Policy() *ApprovalPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// Check decides a tool call. Order: recorded decision for this exact call,
// denylist, allowlist, require_approval, default.
func (c *ApprovalChecker) Check(ctx context.Context, conversationID string, call models.ToolCall) (ApprovalDecision, string, error) {
	policy := c.Policy()

	if prior, err := c.store.FindDecided(ctx, conversationID, call.Name, call.Input); err != nil {
		return "", "", err
	} else if prior != nil {
		prior.Consumed = true
		if err := c.store.Update(ctx, prior); err != nil {
			return "", "", err
		}
		if prior.Decision == ApprovalAllowed {
			return ApprovalAllowed, "approved by " + decidedBy(prior), nil
		}
		return ApprovalDenied, "denied by " + decidedBy(prior), nil
	}

	if matchesPattern(policy.Denylist, call.Name) {
		return ApprovalDenied, "tool in denylist", nil
	}
	if matchesPattern(policy.Allowlist, call.Name) {
		return ApprovalAllowed, "tool in allowlist", nil
	}
	if matchesPattern(policy.RequireApproval, call.Name) {
		return ApprovalPending, "tool requires approval", nil
	}
	return policy.DefaultDecision, "default policy", nil
}

func decidedBy(req *ApprovalRequest) string {
	if req.DecidedBy == "" {
		return "operator"
	}
	return req.DecidedBy
}

// CreateRequest persists a pending request for call.
func (c *ApprovalChecker) CreateRequest(ctx context.Context, conversationID string, call models.ToolCall, reason string) (*ApprovalRequest, error) {
	now := c.now()
	req := &ApprovalRequest{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		ToolCallID:     call.ID,
		ToolName:       call.Name,
		Input:          append(json.RawMessage(nil), call.Input...),
		Reason:         reason,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.Policy().RequestTTL),
		Decision:       ApprovalPending,
	}
	if err := c.store.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Approve records an allow decision.
func (c *ApprovalChecker) Approve(ctx context.Context, requestID, decidedBy string) (*ApprovalRequest, error) {
	return c.decide(ctx, requestID, decidedBy, ApprovalAllowed)
}

// Deny records a deny decision.
func (c *ApprovalChecker) Deny(ctx context.Context, requestID, decidedBy string) (*ApprovalRequest, error) {
	return c.decide(ctx, requestID, decidedBy, ApprovalDenied)
}

func (c *ApprovalChecker) decide(ctx context.Context, requestID, decidedBy string, decision ApprovalDecision) (*ApprovalRequest, error) {
	req, err := c.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrApprovalNotFound
	}
	if req.Decision != ApprovalPending {
		return nil, ErrApprovalDecided
	}
	req.Decision = decision
	req.DecidedAt = c.now()
	req.DecidedBy = decidedBy
	if err := c.store.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Pending lists undecided requests, optionally for one conversation.
func (c *ApprovalChecker) Pending(ctx context.Context, conversationID string) ([]*ApprovalRequest, error) {
	return c.store.ListPending(ctx, conversationID)
}

// matchesPattern checks if toolName matches any pattern in the list.
// Supports: exact match, prefix* match, *suffix match and * (all).
func matchesPattern(patterns []string, toolName string) bool {
	normalizedTool := strings.ToLower(strings.TrimSpace(toolName))
	for _, pattern := range patterns {
		normalizedPattern := strings.ToLower(strings.TrimSpace(pattern))
		if normalizedPattern == "" {
			continue
		}
		if normalizedPattern == "*" || normalizedPattern == normalizedTool {
			return true
		}
		if len(normalizedPattern) > 1 && strings.HasSuffix(normalizedPattern, "*") &&
			strings.HasPrefix(normalizedTool, strings.TrimSuffix(normalizedPattern, "*")) {
			return true
		}
		if len(normalizedPattern) > 1 && strings.HasPrefix(normalizedPattern, "*") &&
			strings.HasSuffix(normalizedTool, strings.TrimPrefix(normalizedPattern, "*")) {
			return true
		}
	}
	return false
}

func normalizeApprovalPolicy(policy *ApprovalPolicy) *ApprovalPolicy {
	defaults := DefaultApprovalPolicy()
	if policy == nil {
		return defaults
	}
	merged := *policy
	switch merged.DefaultDecision {
	case ApprovalAllowed, ApprovalDenied, ApprovalPending:
	default:
		merged.DefaultDecision = defaults.DefaultDecision
	}
	if merged.RequestTTL <= 0 {
		merged.RequestTTL = defaults.RequestTTL
	}
	return &merged
}

// canonicalJSON re-encodes input so key order and spacing do not affect
// matching.
func canonicalJSON(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return string(input)
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return string(input)
	}
	return string(out)
}

// MemoryApprovalStore is a thread-safe in-memory ApprovalStore.
type MemoryApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]*ApprovalRequest
}

// NewMemoryApprovalStore creates an empty store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{
		requests: make(map[string]*ApprovalRequest),
	}
}

func (s *MemoryApprovalStore) Create(ctx context.Context, req *ApprovalRequest) error {
	if req == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *req
	s.requests[req.ID] = &clone
	return nil
}

// Get returns a copy of the request, or nil if not found.
func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	clone := *req
	return &clone, nil
}

func (s *MemoryApprovalStore) Update(ctx context.Context, req *ApprovalRequest) error {
	if req == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return ErrApprovalNotFound
	}
	clone := *req
	s.requests[req.ID] = &clone
	return nil
}

// ListPending returns pending, non-expired requests oldest first.
func (s *MemoryApprovalStore) ListPending(ctx context.Context, conversationID string) ([]*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var result []*ApprovalRequest
	for _, req := range s.requests {
		if req.Decision != ApprovalPending {
			continue
		}
		if !req.ExpiresAt.IsZero() && req.ExpiresAt.Before(now) {
			continue
		}
		if conversationID != "" && req.ConversationID != conversationID {
			continue
		}
		clone := *req
		result = append(result, &clone)
	}
	sortRequests(result)
	return result, nil
}

func (s *MemoryApprovalStore) FindDecided(ctx context.Context, conversationID, toolName string, input json.RawMessage) (*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := canonicalJSON(input)
	var match *ApprovalRequest
	for _, req := range s.requests {
		if req.Consumed || req.Decision == ApprovalPending {
			continue
		}
		if req.ConversationID != conversationID || req.ToolName != toolName {
			continue
		}
		if canonicalJSON(req.Input) != want {
			continue
		}
		if match == nil || req.DecidedAt.Before(match.DecidedAt) {
			match = req
		}
	}
	if match == nil {
		return nil, nil
	}
	clone := *match
	return &clone, nil
}

// Prune removes requests older than the given age.
func (s *MemoryApprovalStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	for id, req := range s.requests {
		if req.CreatedAt.Before(cutoff) {
			delete(s.requests, id)
			pruned++
		}
	}
	return pruned, nil
}

func sortRequests(reqs []*ApprovalRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
