package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/events"
	"fintrack/internal/store"
)

// RuleFailure records why one rule could not be processed in a batch.
type RuleFailure struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
	Err    error  `json:"-"`
}

// ProcessResult separates the successes of a ProcessDue batch from its
// per-rule failures.
type ProcessResult struct {
	AsOf        core.Date          `json:"as_of"`
	Created     []core.Transaction `json:"created"`
	Failures    []RuleFailure      `json:"failures"`
	Deactivated []string           `json:"deactivated"`
}

// RecurringProcessor materializes recurring rules into transactions. Work on
// one rule is serialized by a per-rule mutex in-process and by a
// compare-and-swap on next_date in the store across processes.
type RecurringProcessor struct {
	rules        store.Rules
	transactions *TransactionService
	publisher    events.Publisher
	today        func() core.Date

	muMap map[string]*sync.Mutex
	mapMu sync.Mutex
}

func NewRecurringProcessor(rules store.Rules, transactions *TransactionService, publisher events.Publisher) *RecurringProcessor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &RecurringProcessor{
		rules:        rules,
		transactions: transactions,
		publisher:    publisher,
		today:        core.Today,
		muMap:        make(map[string]*sync.Mutex),
	}
}

func (p *RecurringProcessor) ruleLock(id string) *sync.Mutex {
	p.mapMu.Lock()
	defer p.mapMu.Unlock()
	mu, ok := p.muMap[id]
	if !ok {
		mu = &sync.Mutex{}
		p.muMap[id] = mu
	}
	return mu
}

// ProcessDue runs every active rule whose next_date is on or before asOf,
// advancing each by exactly one period. A rule whose end_date has passed its
// next_date is deactivated instead. Failures are isolated per rule.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, asOf core.Date) (*ProcessResult, error) {
	if p.rules == nil || p.transactions == nil {
		return nil, fmt.Errorf("processor not properly initialized")
	}
	if asOf.IsEmpty() {
		asOf = p.today()
	}

	active, err := p.rules.ListRules(ctx, store.RuleFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list active recurring rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring rules",
		"total_active", len(active),
		"as_of", asOf.String())

	result := &ProcessResult{AsOf: asOf}
	for _, rule := range active {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		p.processDueRule(ctx, rule.ID, asOf, result)
	}

	slog.InfoContext(ctx, "Recurring rule processing complete",
		"created", len(result.Created),
		"failed", len(result.Failures),
		"deactivated", len(result.Deactivated),
		"total_checked", len(active))
	return result, nil
}

func (p *RecurringProcessor) processDueRule(ctx context.Context, id string, asOf core.Date, result *ProcessResult) {
	mu := p.ruleLock(id)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; the listing may be stale.
	rule, err := p.rules.GetRule(ctx, id)
	if err != nil {
		p.recordFailure(ctx, result, id, err)
		return
	}
	if !rule.IsDue(asOf) {
		return
	}

	if rule.Expired() {
		if err := p.rules.UpdateRule(ctx, id, store.RuleUpdate{IsActive: store.Ptr(false)}); err != nil {
			p.recordFailure(ctx, result, id, err)
			return
		}
		slog.InfoContext(ctx, "Recurring rule expired and deactivated",
			"recurring_id", id,
			"end_date", rule.EndDate.String(),
			"next_date", rule.NextDate.String())
		result.Deactivated = append(result.Deactivated, id)
		p.publish(ctx, events.NewRuleDeactivatedEvent(*rule))
		return
	}

	tx, err := p.materialize(ctx, *rule, rule.NextDate, asOf)
	if errors.Is(err, store.ErrConflict) {
		slog.InfoContext(ctx, "Recurring rule already claimed", "recurring_id", id)
		return
	}
	if err != nil {
		p.recordFailure(ctx, result, id, err)
		return
	}
	result.Created = append(result.Created, *tx)
}

// ProcessSingle materializes the rule at date now, bypassing the due check.
// A zero date means today. next_date becomes one period after date.
func (p *RecurringProcessor) ProcessSingle(ctx context.Context, ruleID string, date core.Date) (*core.Transaction, error) {
	if date.IsEmpty() {
		date = p.today()
	}

	mu := p.ruleLock(ruleID)
	mu.Lock()
	defer mu.Unlock()

	rule, err := p.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return p.materialize(ctx, *rule, date, date)
}

// materialize claims the period by moving next_date forward, then creates the
// transaction. The claim is undone when creation fails. Requires the rule lock.
func (p *RecurringProcessor) materialize(ctx context.Context, rule core.RecurringRule, date, processedOn core.Date) (*core.Transaction, error) {
	next := CalculateNextDate(date, rule.Frequency)
	claim := store.RuleUpdate{NextDate: &next, LastProcessed: &processedOn}
	if err := p.rules.ClaimRule(ctx, rule.ID, rule.NextDate, claim); err != nil {
		return nil, err
	}

	tx, err := p.transactions.Create(ctx, rule.ToTransaction(date))
	if err != nil {
		undo := store.RuleUpdate{NextDate: store.Ptr(rule.NextDate), LastProcessed: store.Ptr(rule.LastProcessed)}
		if undoErr := p.rules.ClaimRule(ctx, rule.ID, next, undo); undoErr != nil {
			slog.ErrorContext(ctx, "Failed to release recurring rule claim",
				"recurring_id", rule.ID,
				"error", undoErr)
		}
		return nil, &core.ProcessingError{RuleID: rule.ID, Err: err}
	}

	slog.InfoContext(ctx, "Created transaction from recurring rule",
		"recurring_id", rule.ID,
		"transaction_id", tx.ID,
		"date", date.String(),
		"next_date", next.String(),
		"frequency", rule.Frequency)
	return tx, nil
}

func (p *RecurringProcessor) recordFailure(ctx context.Context, result *ProcessResult, ruleID string, err error) {
	level := slog.LevelError
	if errors.Is(err, core.ErrNotFound) {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "Failed to process recurring rule", "recurring_id", ruleID, "error", err)
	result.Failures = append(result.Failures, RuleFailure{RuleID: ruleID, Error: err.Error(), Err: err})
}

// CreateRule stores a new rule, active with next_date = start_date.
func (p *RecurringProcessor) CreateRule(ctx context.Context, rule core.RecurringRule) (*core.RecurringRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.IsActive = true
	rule.NextDate = rule.StartDate
	rule.LastProcessed = core.Date{}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if _, err := p.rules.InsertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("save recurring rule: %w", err)
	}
	slog.InfoContext(ctx, "Recurring rule created",
		"recurring_id", rule.ID,
		"frequency", rule.Frequency,
		"start_date", rule.StartDate.String())
	return &rule, nil
}

// PauseRule deactivates a rule without touching its schedule.
func (p *RecurringProcessor) PauseRule(ctx context.Context, id string) (*core.RecurringRule, error) {
	return p.setActive(ctx, id, false)
}

// ResumeRule reactivates a paused or expired rule. An expired rule is
// deactivated again by the next ProcessDue unless its end_date was moved.
func (p *RecurringProcessor) ResumeRule(ctx context.Context, id string) (*core.RecurringRule, error) {
	return p.setActive(ctx, id, true)
}

func (p *RecurringProcessor) setActive(ctx context.Context, id string, active bool) (*core.RecurringRule, error) {
	mu := p.ruleLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := p.rules.UpdateRule(ctx, id, store.RuleUpdate{IsActive: &active}); err != nil {
		return nil, err
	}
	return p.rules.GetRule(ctx, id)
}

func (p *RecurringProcessor) GetRule(ctx context.Context, id string) (*core.RecurringRule, error) {
	return p.rules.GetRule(ctx, id)
}

func (p *RecurringProcessor) ListRules(ctx context.Context, activeOnly bool) ([]core.RecurringRule, error) {
	return p.rules.ListRules(ctx, store.RuleFilter{ActiveOnly: activeOnly})
}

func (p *RecurringProcessor) publish(ctx context.Context, ev events.Event) {
	if err := p.publisher.Publish(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"type", ev.Type,
			"key", ev.Key(),
			"error", err)
	}
}
