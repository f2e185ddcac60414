// Package chat wires session resolution, streamed delivery, leakage
// guarding, and usage accounting together for a single request.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reagent-ai/reagent/internal/guard"
	"github.com/reagent-ai/reagent/internal/ledger"
	"github.com/reagent-ai/reagent/internal/prompt"
	"github.com/reagent-ai/reagent/internal/repository"
	"github.com/reagent-ai/reagent/internal/stream"
	"github.com/reagent-ai/reagent/pkg/llm"
	pkgLogger "github.com/reagent-ai/reagent/pkg/logger"
)

const (
	messageTypeChat    = "chat"
	messageTypeSummary = "summary"

	summaryPrompt = "Generate a 4-6 word summary title of the chat's purpose. " +
		"Provide only the summary words; focus on the current chat."

	// accountingTimeout bounds each background accounting call.
	accountingTimeout = 10 * time.Second
)

// Request is one chat request from a subscriber.
type Request struct {
	SubscriberID string
	Message      string
	SessionID    string // explicit session to continue, if any
	NewSession   bool   // start a brand-new session
	Category     string // active template category, if any
}

// SessionInfo reports which session a request ran under.
type SessionInfo struct {
	ID  string
	New bool
}

// Response is the result of a non-streamed chat.
type Response struct {
	Text    string
	Session SessionInfo
}

// Orchestrator composes the generator, segmenter, guard, and ledger for a
// request. Accounting runs in the background and never surfaces into the
// caller-visible response.
type Orchestrator struct {
	generator llm.Generator
	ledger    *ledger.Ledger
	sessions  repository.SessionRepository
	prompts   *prompt.Config
	logger    *pkgLogger.Logger

	accounting sync.WaitGroup
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(
	generator llm.Generator,
	usageLedger *ledger.Ledger,
	sessions repository.SessionRepository,
	prompts *prompt.Config,
	logger *pkgLogger.Logger,
) *Orchestrator {
	return &Orchestrator{
		generator: generator,
		ledger:    usageLedger,
		sessions:  sessions,
		prompts:   prompts,
		logger:    logger.WithComponent("chat"),
	}
}

// StreamChat starts a streamed generation for the request. Chunks arrive on
// the returned channel in delivery order: session preamble first for new
// sessions, then clause-sized text chunks, then the terminal sentinel. The
// channel closes when delivery ends. A missing sentinel means the
// upstream stream broke mid-generation. Usage accounting runs after the
// channel closes and never delays it.
func (o *Orchestrator) StreamChat(ctx context.Context, req Request) (<-chan string, SessionInfo, error) {
	session, err := o.resolveSession(ctx, req)
	if err != nil {
		return nil, SessionInfo{}, err
	}

	src, err := o.generator.Stream(ctx, o.generationRequest(ctx, req, session.ID))
	if err != nil {
		return nil, SessionInfo{}, errors.Wrap(err, "generation source failed to start")
	}

	preamble := ""
	if session.New {
		preamble = fmt.Sprintf("session_id: %s\n", session.ID)
	}
	o.rememberSession(ctx, req.SubscriberID, session)

	segmenter := stream.NewSegmenter(o.prompts.ProtectedPhrases(req.Category))
	out := make(chan string)
	go func() {
		defer close(out)
		if err := segmenter.Run(ctx, src, preamble, out); err != nil {
			o.logger.WithSession(session.ID).Error("stream delivery failed", "error", err)
		}
	}()

	// Account and record history once the visible response has fully drained.
	final := make(chan string)
	go func() {
		var response strings.Builder
		pastPreamble := preamble == ""
		completed := false
		record := func(chunk string) {
			if !pastPreamble {
				pastPreamble = true
				return
			}
			if chunk == stream.DoneSentinel {
				completed = true
				return
			}
			response.WriteString(chunk)
		}

		// Settle history and accounting before final closes, so a caller
		// that drained the channel can rely on Wait.
		defer close(final)
		defer func() {
			if completed {
				o.rememberExchange(session.ID, req.Message, response.String())
			}
			o.accountStream(req.SubscriberID, session.ID, src)
		}()

		for chunk := range out {
			record(chunk)
			select {
			case final <- chunk:
			case <-ctx.Done():
				// Keep draining so the segmenter can finish and the
				// generation source settles its metrics.
				for chunk := range out {
					record(chunk)
				}
				return
			}
		}
	}()

	return final, session, nil
}

// ListSessions returns the subscriber's sessions, most recently used first.
func (o *Orchestrator) ListSessions(ctx context.Context, subscriberID string) ([]repository.Session, error) {
	sessions, err := o.sessions.BySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, errors.Wrap(err, "session listing failed")
	}
	return sessions, nil
}

// History returns a session's conversation turns, oldest first.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]llm.Turn, error) {
	return o.sessions.History(ctx, sessionID)
}

// Chat runs a non-streamed generation: the full response is produced
// synchronously, screened once against the protected phrases, substituted
// with the refusal text on a leak, and metered regardless of substitution.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Response, error) {
	session, err := o.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	text, metrics, err := o.generator.Complete(ctx, o.generationRequest(ctx, req, session.ID))
	if err != nil {
		return nil, errors.Wrap(err, "generation failed")
	}

	if guard.Leaked(text, o.prompts.ProtectedPhrases(req.Category)) {
		o.logger.WithSession(session.ID).Warn("response withheld: protected instruction text detected")
		text = stream.RefusalMessage
	}

	o.rememberSession(ctx, req.SubscriberID, session)
	o.rememberExchange(session.ID, req.Message, text)
	o.accountAsync(req.SubscriberID, session.ID, messageTypeChat, metrics)

	return &Response{Text: text, Session: session}, nil
}

// Summarize produces a short title for a subscriber's session and stores it
// on the session. The summary generation is metered like any other.
func (o *Orchestrator) Summarize(ctx context.Context, subscriberID, sessionID string) (string, error) {
	history, err := o.sessions.History(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		o.logger.WithSession(sessionID).Warn("failed to load session history", "error", err)
	}
	genReq := llm.GenerationRequest{
		SessionID: sessionID,
		System:    o.prompts.SystemLines(""),
		History:   history,
		Message:   summaryPrompt,
	}
	title, metrics, err := o.generator.Complete(ctx, genReq)
	if err != nil {
		return "", errors.Wrap(err, "summary generation failed")
	}

	if err := o.sessions.SetTitle(ctx, sessionID, title); err != nil {
		o.logger.WithSession(sessionID).Warn("failed to store session title", "error", err)
	}
	o.accountAsync(subscriberID, sessionID, messageTypeSummary, metrics)

	return title, nil
}

// Wait blocks until all in-flight accounting has finished. Called on
// shutdown and by tests.
func (o *Orchestrator) Wait() {
	o.accounting.Wait()
}

// resolveSession decides which session the request continues: a fresh one
// when explicitly asked, the caller-supplied id when present, otherwise the
// subscriber's most recent session, falling back to a fresh one.
func (o *Orchestrator) resolveSession(ctx context.Context, req Request) (SessionInfo, error) {
	if req.NewSession {
		return SessionInfo{ID: uuid.NewString(), New: true}, nil
	}
	if req.SessionID != "" {
		return SessionInfo{ID: req.SessionID}, nil
	}

	id, err := o.sessions.MostRecentSessionID(ctx, req.SubscriberID)
	switch {
	case err == nil:
		return SessionInfo{ID: id}, nil
	case errors.Is(err, repository.ErrNotFound):
		return SessionInfo{ID: uuid.NewString(), New: true}, nil
	default:
		return SessionInfo{}, errors.Wrap(err, "session lookup failed")
	}
}

func (o *Orchestrator) generationRequest(ctx context.Context, req Request, sessionID string) llm.GenerationRequest {
	history, err := o.sessions.History(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		o.logger.WithSession(sessionID).Warn("failed to load session history", "error", err)
	}
	return llm.GenerationRequest{
		SessionID: sessionID,
		System:    o.prompts.SystemLines(req.Category),
		History:   history,
		Message:   req.Message,
	}
}

func (o *Orchestrator) rememberSession(ctx context.Context, subscriberID string, session SessionInfo) {
	if err := o.sessions.Save(ctx, subscriberID, session.ID); err != nil {
		o.logger.WithSession(session.ID).Warn("failed to persist session", "error", err)
	}
}

// rememberExchange appends this turn's user message and the delivered
// response to the session history. Runs after delivery, so the request
// context may already be done.
func (o *Orchestrator) rememberExchange(sessionID, message, response string) {
	if response == "" {
		return
	}
	err := o.sessions.AppendHistory(context.Background(), sessionID,
		llm.Turn{Role: llm.RoleUser, Content: message},
		llm.Turn{Role: llm.RoleAssistant, Content: response},
	)
	if err != nil {
		o.logger.WithSession(sessionID).Warn("failed to persist session history", "error", err)
	}
}

// accountStream reads the stream's terminal metrics and hands them to the
// ledger. Runs after delivery has finished. A stream that ended in error is
// never metered, whatever it reported.
func (o *Orchestrator) accountStream(subscriberID, sessionID string, src llm.Stream) {
	// Metrics blocks until the stream settles, so Err is stable after it.
	metrics, ok := src.Metrics()
	if err := src.Err(); err != nil {
		o.logger.WithSession(sessionID).Error("usage accounting skipped: generation failed",
			"subscriber", subscriberID, "error", err)
		return
	}
	if !ok {
		o.logger.WithSession(sessionID).Error("usage accounting skipped: generation source reported no metrics",
			"subscriber", subscriberID)
		return
	}
	o.accountAsync(subscriberID, sessionID, messageTypeChat, metrics)
}

// accountAsync meters one completed generation in the background. Failures
// are logged, never propagated to the response path.
func (o *Orchestrator) accountAsync(subscriberID, sessionID, messageType string, metrics llm.GenerationMetrics) {
	if metrics == nil {
		o.logger.WithSession(sessionID).Error("usage accounting skipped: generation source reported no metrics",
			"subscriber", subscriberID)
		return
	}

	o.accounting.Add(1)
	go func() {
		defer o.accounting.Done()

		ctx, cancel := context.WithTimeout(context.Background(), accountingTimeout)
		defer cancel()

		result, err := o.ledger.RecordUsage(ctx, subscriberID, metrics, messageType)
		if err != nil {
			o.logger.WithSession(sessionID).Error("usage accounting failed",
				"subscriber", subscriberID, "type", messageType, "error", err)
			return
		}
		o.logger.WithSession(sessionID).Debug("usage accounted",
			"subscriber", subscriberID, "tokens", result.TokensUsed, "period", result.PeriodID)
	}()
}
