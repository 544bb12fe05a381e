// Package agent drives the multi-turn tool-calling loop: model call, tool
// dispatch, history append, repeat until the model answers in plain text
// or a guard rail stops the run.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/solagent/solagent/internal/events"
	"github.com/solagent/solagent/internal/llm"
	"github.com/solagent/solagent/internal/memory"
	"github.com/solagent/solagent/internal/models"
	"github.com/solagent/solagent/internal/pipeline"
	"github.com/solagent/solagent/internal/tools"
)

// Run statuses reported to callers and on the event bus.
const (
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Config tunes the loop's guard rails.
type Config struct {
	MaxIterations      int           `json:"max_iterations"`
	MaxConcurrentTools int           `json:"max_concurrent_tools"`
	LoopDetectionTurns int           `json:"loop_detection_turns"`
	ContextBudget      int           `json:"context_budget_tokens"`
	ContextHighWater   float64       `json:"context_high_water"`
	CompactKeepRecent  int           `json:"compact_keep_recent"`
	ModelRetries       int           `json:"model_retries"`
	ModelRetryDelay    time.Duration `json:"model_retry_delay"`
	SystemPrompt       string        `json:"system_prompt"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      10,
		MaxConcurrentTools: 4,
		LoopDetectionTurns: 3,
		ContextBudget:      100_000,
		ContextHighWater:   0.8,
		CompactKeepRecent:  4,
		ModelRetries:       3,
		ModelRetryDelay:    500 * time.Millisecond,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxConcurrentTools <= 0 {
		c.MaxConcurrentTools = d.MaxConcurrentTools
	}
	if c.LoopDetectionTurns <= 0 {
		c.LoopDetectionTurns = d.LoopDetectionTurns
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = d.ContextBudget
	}
	if c.ContextHighWater <= 0 || c.ContextHighWater > 1 {
		c.ContextHighWater = d.ContextHighWater
	}
	if c.CompactKeepRecent <= 0 {
		c.CompactKeepRecent = d.CompactKeepRecent
	}
	if c.ModelRetries <= 0 {
		c.ModelRetries = d.ModelRetries
	}
	if c.ModelRetryDelay <= 0 {
		c.ModelRetryDelay = d.ModelRetryDelay
	}
}

// Loop orchestrates runs. Safe for concurrent use; runs on the same
// session serialize on a per-session lock.
type Loop struct {
	cfg      Config
	client   llm.Client
	executor *pipeline.Executor
	specs    SpecSource
	store    memory.Store
	bus      *events.Bus

	mu       sync.Mutex
	sessions map[string]*sync.Mutex

	sleep func(ctx context.Context, d time.Duration) error
}

// SpecSource supplies the tool specs advertised to the model each turn.
// *tools.Registry satisfies it.
type SpecSource interface {
	ListSpecs() []tools.Spec
}

func NewLoop(cfg Config, client llm.Client, executor *pipeline.Executor, specs SpecSource, store memory.Store, bus *events.Bus) *Loop {
	cfg.setDefaults()
	return &Loop{
		cfg:      cfg,
		client:   client,
		executor: executor,
		specs:    specs,
		store:    store,
		bus:      bus,
		sessions: make(map[string]*sync.Mutex),
		sleep:    sleepCtx,
	}
}

// Run executes one user turn to completion.
func (l *Loop) Run(ctx context.Context, req models.RunRequest) (*models.RunResponse, error) {
	req.SetDefaults()

	sessionLock := l.sessionLock(req.SessionID)
	if !sessionLock.TryLock() {
		return nil, ErrSessionBusy
	}
	defer sessionLock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
	defer cancel()

	if err := l.store.Append(ctx, req.SessionID, models.Message{
		Role:    models.RoleUser,
		Content: req.Message,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	l.publishStatus(req, "started", "", 0)

	resp, err := l.run(ctx, req)
	if err != nil {
		status := StatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = StatusCancelled
		}
		l.publishStatus(req, status, err.Error(), 0)
		if resp == nil {
			resp = &models.RunResponse{SessionID: req.SessionID}
		}
		resp.Status = status
		resp.ErrorKind = errorKind(err)
		return resp, err
	}
	return resp, nil
}

func (l *Loop) run(ctx context.Context, req models.RunRequest) (*models.RunResponse, error) {
	var (
		toolsUsed   []string
		usage       models.UsageSummary
		loopCount   = map[string]int{}
		loopBlocked = map[string]bool{}
		lastContent string
	)

	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		history, err := l.store.History(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}

		if l.underPressure(history) {
			l.publishStatus(req, "compacting", "", iter)
			if err := l.compact(ctx, req.SessionID, req.UserID, l.cfg.CompactKeepRecent); err != nil {
				log.Warn().Err(err).Str("session_id", req.SessionID).Msg("history compaction failed")
			} else if history, err = l.store.History(ctx, req.SessionID); err != nil {
				return nil, fmt.Errorf("failed to reload history: %w", err)
			}
		}

		completion, err := l.completeWithRetry(ctx, history, l.specs.ListSpecs())
		if err != nil {
			return nil, err
		}
		usage.InputTokens += int(completion.Usage.InputTokens)
		usage.OutputTokens += int(completion.Usage.OutputTokens)
		usage.Requests++
		if l.bus != nil {
			l.bus.Publish(events.TopicLLMUsage, events.LLMUsage{
				SessionID:    req.SessionID,
				UserID:       req.UserID,
				Model:        l.client.Model(),
				InputTokens:  completion.Usage.InputTokens,
				OutputTokens: completion.Usage.OutputTokens,
				Timestamp:    time.Now(),
			})
		}

		if len(completion.ToolCalls) == 0 {
			if err := l.store.Append(ctx, req.SessionID, models.Message{
				Role:    models.RoleAssistant,
				Content: completion.Content,
			}); err != nil {
				return nil, fmt.Errorf("failed to persist reply: %w", err)
			}
			if l.bus != nil {
				l.bus.Publish(events.TopicAgentMessage, events.AgentMessage{
					SessionID: req.SessionID,
					UserID:    req.UserID,
					Content:   completion.Content,
					Timestamp: time.Now(),
				})
			}
			l.publishStatus(req, StatusDone, "", iter)
			return &models.RunResponse{
				Status:     StatusDone,
				SessionID:  req.SessionID,
				Reply:      completion.Content,
				ToolsUsed:  toolsUsed,
				Iterations: iter,
				Usage:      usage,
			}, nil
		}

		if completion.Content != "" {
			lastContent = completion.Content
		}

		l.advanceLoopDetection(loopCount, loopBlocked, completion.ToolCalls)

		assistant := models.Message{
			Role:      models.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		}
		for i := range assistant.ToolCalls {
			assistant.ToolCalls[i].SessionID = req.SessionID
			assistant.ToolCalls[i].UserID = req.UserID
		}
		if err := l.store.Append(ctx, req.SessionID, assistant); err != nil {
			return nil, fmt.Errorf("failed to persist assistant turn: %w", err)
		}

		results := l.dispatch(ctx, assistant.ToolCalls, loopBlocked)

		toolMsgs := make([]models.Message, len(results))
		for i, result := range results {
			toolsUsed = append(toolsUsed, result.Name)
			toolMsgs[i] = toolMessage(result)
		}
		if err := l.store.Append(ctx, req.SessionID, toolMsgs...); err != nil {
			return nil, fmt.Errorf("failed to persist tool results: %w", err)
		}
	}

	// Hand back whatever text the model produced along the way so the
	// caller is not left empty-handed.
	return &models.RunResponse{
		SessionID:  req.SessionID,
		Reply:      lastContent,
		ToolsUsed:  toolsUsed,
		Iterations: l.cfg.MaxIterations,
		Usage:      usage,
	}, ErrIterationLimit
}

// completeWithRetry calls the model, backing off exponentially on
// provider errors. Context errors abort immediately.
func (l *Loop) completeWithRetry(ctx context.Context, history []models.Message, specs []tools.Spec) (*llm.Completion, error) {
	var lastErr error
	for attempt := 0; attempt < l.cfg.ModelRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.ModelRetryDelay * time.Duration(1<<(attempt-1))
			if err := l.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		completion, err := l.client.Complete(ctx, l.cfg.SystemPrompt, history, specs)
		if err == nil {
			return completion, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("model call failed")
	}
	return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, lastErr)
}

// dispatch runs the turn's tool calls with bounded concurrency and returns
// results in call order. Calls flagged by loop detection get a synthetic
// failure without executing.
func (l *Loop) dispatch(ctx context.Context, calls []models.ToolCall, blocked map[string]bool) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxConcurrentTools)
	for i, call := range calls {
		if blocked[callSignature(call)] {
			results[i] = models.Fail(call, models.KindLoopDetected,
				fmt.Sprintf("tool %q called with identical arguments %d turns in a row; change approach or answer with what you have", call.Name, l.cfg.LoopDetectionTurns))
			continue
		}
		i, call := i, call
		g.Go(func() error {
			results[i] = l.executor.Execute(gctx, call)
			return nil
		})
	}
	g.Wait()
	return results
}

// advanceLoopDetection updates per-signature consecutive-turn counts. A
// signature absent from the current turn resets its count; a signature
// that crosses the threshold goes into blocked and stays there for the
// remainder of the run, even if later turns stop requesting it.
func (l *Loop) advanceLoopDetection(counts map[string]int, blocked map[string]bool, calls []models.ToolCall) {
	seen := make(map[string]bool, len(calls))
	for _, call := range calls {
		seen[callSignature(call)] = true
	}
	for sig := range counts {
		if !seen[sig] {
			delete(counts, sig)
		}
	}
	for sig := range seen {
		if blocked[sig] {
			continue
		}
		counts[sig]++
		if counts[sig] >= l.cfg.LoopDetectionTurns {
			blocked[sig] = true
		}
	}
}

func callSignature(call models.ToolCall) string {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte(fmt.Sprintf("%v", call.Arguments))
	}
	return call.Name + ":" + string(args)
}

// Compact summarizes everything but the most recent messages into a single
// summary entry. Exposed for the compact endpoint; the loop also calls it
// when history grows past the context high-water mark.
func (l *Loop) Compact(ctx context.Context, sessionID, userID string, keepRecent int) error {
	sessionLock := l.sessionLock(sessionID)
	if !sessionLock.TryLock() {
		return ErrSessionBusy
	}
	defer sessionLock.Unlock()
	if keepRecent <= 0 {
		keepRecent = l.cfg.CompactKeepRecent
	}
	return l.compact(ctx, sessionID, userID, keepRecent)
}

func (l *Loop) compact(ctx context.Context, sessionID, userID string, keepRecent int) error {
	history, err := l.store.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	cut := compactionCut(history, keepRecent)
	if cut <= 0 {
		return nil
	}
	head, tail := history[:cut], history[cut:]

	summary, err := l.summarize(ctx, head)
	if err != nil {
		return fmt.Errorf("failed to summarize history: %w", err)
	}

	replacement := make([]models.Message, 0, len(tail)+1)
	replacement = append(replacement, models.Message{
		Role:    models.RoleUser,
		Content: "Summary of the conversation so far:\n" + summary,
	})
	replacement = append(replacement, tail...)
	if err := l.store.Replace(ctx, sessionID, replacement); err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	log.Info().Str("session_id", sessionID).Int("compacted", len(head)).
		Int("kept", len(tail)).Msg("history compacted")
	return nil
}

func (l *Loop) summarize(ctx context.Context, msgs []models.Message) (string, error) {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	prompt := []models.Message{{
		Role: models.RoleUser,
		Content: "Summarize this conversation segment, keeping every fact, " +
			"decision, and tool outcome that later turns may depend on:\n\n" + b.String(),
	}}
	completion, err := l.completeWithRetry(ctx, prompt, nil)
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

// compactionCut returns the index splitting history into a summarizable
// head and a kept tail of at least keepRecent messages. The cut never
// separates tool results from the assistant turn that requested them.
func compactionCut(history []models.Message, keepRecent int) int {
	cut := len(history) - keepRecent
	if cut <= 0 {
		return 0
	}
	for cut > 0 && history[cut].Role == models.RoleTool {
		cut--
	}
	return cut
}

func (l *Loop) underPressure(history []models.Message) bool {
	return estimateTokens(history) >= int(float64(l.cfg.ContextBudget)*l.cfg.ContextHighWater)
}

// estimateTokens is a chars/4 heuristic over message content and tool
// call arguments.
func estimateTokens(history []models.Message) int {
	chars := 0
	for _, msg := range history {
		chars += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			if args, err := json.Marshal(tc.Arguments); err == nil {
				chars += len(args)
			}
		}
	}
	return chars / 4
}

func (l *Loop) sessionLock(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.sessions[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		l.sessions[sessionID] = lock
	}
	return lock
}

func (l *Loop) publishStatus(req models.RunRequest, status, detail string, iter int) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.TopicAgentStatus, events.AgentStatus{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Status:    status,
		Detail:    detail,
		Iteration: iter,
		Timestamp: time.Now(),
	})
}

func toolMessage(result models.ToolResult) models.Message {
	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"error_kind":%q,"error_message":"result not serializable"}`, models.KindExecution))
	}
	return models.Message{
		Role:       models.RoleTool,
		Content:    string(content),
		ToolCallID: result.CallID,
		Name:       result.Name,
		IsError:    !result.Success,
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrIterationLimit):
		return "iteration_limit"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return models.KindTimeout
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return models.KindExecution
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
