package security

import (
	"crypto/sha256"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/solagent/solagent/internal/events"
)

// AuditLogger mirrors agent activity into a structured audit trail with
// hashed identifiers. It subscribes to the event bus; tool arguments go
// through the masker and replies flagged by the PII detector are hashed
// instead of logged.
type AuditLogger struct {
	enabled bool
	masker  *Masker
	pii     *PIIDetector
	subs    []*events.Subscription
}

func NewAuditLogger(enabled bool, masker *Masker, pii *PIIDetector) *AuditLogger {
	return &AuditLogger{enabled: enabled, masker: masker, pii: pii}
}

// Attach subscribes to bus. No-op when auditing is disabled.
func (a *AuditLogger) Attach(bus *events.Bus) {
	if !a.enabled {
		return
	}
	a.subs = append(a.subs,
		bus.Subscribe(events.TopicToolCalled, a.onToolCalled),
		bus.Subscribe(events.TopicToolFailed, a.onToolFailed),
		bus.Subscribe(events.TopicAgentMessage, a.onAgentMessage),
	)
}

// Detach unsubscribes from all topics.
func (a *AuditLogger) Detach() {
	for _, s := range a.subs {
		s.Unsubscribe()
	}
	a.subs = nil
}

func (a *AuditLogger) onToolCalled(evt events.Event) {
	p, ok := evt.Payload.(events.ToolCalled)
	if !ok {
		return
	}
	args := p.Arguments
	if a.masker != nil {
		args = a.masker.MaskMap(args)
	}
	log.Info().
		Str("event", "tool_audit").
		Str("session_hash", hashStr(p.SessionID)[:16]).
		Str("user_hash", hashStr(p.UserID)[:16]).
		Str("tool", p.Tool).
		Str("call_id", p.CallID).
		Interface("args", args).
		Msg("audit")
}

func (a *AuditLogger) onToolFailed(evt events.Event) {
	p, ok := evt.Payload.(events.ToolFailed)
	if !ok {
		return
	}
	log.Warn().
		Str("event", "tool_audit").
		Str("session_hash", hashStr(p.SessionID)[:16]).
		Str("user_hash", hashStr(p.UserID)[:16]).
		Str("tool", p.Tool).
		Str("call_id", p.CallID).
		Str("error_kind", p.ErrorKind).
		Str("error", p.Error).
		Int64("duration_ms", p.Duration.Milliseconds()).
		Msg("audit")
}

func (a *AuditLogger) onAgentMessage(evt events.Event) {
	p, ok := evt.Payload.(events.AgentMessage)
	if !ok {
		return
	}
	evtLog := log.Info().
		Str("event", "reply_audit").
		Str("session_hash", hashStr(p.SessionID)[:16]).
		Str("user_hash", hashStr(p.UserID)[:16]).
		Str("reply_hash", hashStr(p.Content)[:16]).
		Int("reply_len", len(p.Content))
	if a.pii != nil {
		if found, keyword := a.pii.Detect(p.Content); found {
			evtLog = evtLog.Str("pii_keyword", keyword)
		}
	}
	evtLog.Msg("audit")
}

func hashStr(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}
