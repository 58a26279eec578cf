package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homeassist/internal/automation"
	"homeassist/internal/metrics"
	"homeassist/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout is how long a session may stay idle before it is discarded
const DefaultTimeout = 10 * time.Minute

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// Creator persists a finished automation
type Creator interface {
	Create(ctx context.Context, in automation.NewAutomation) (models.Automation, error)
}

// Reply is the outcome of one turn. Consumed is false when the utterance is
// not part of an automation dialogue and should go to the command pipeline.
type Reply struct {
	ConversationID string             `json:"conversation_id"`
	Response       string             `json:"response"`
	Consumed       bool               `json:"consumed"`
	State          State              `json:"state"`
	Automation     *models.Automation `json:"automation,omitempty"`
}

// Manager drives the automation dialogue of every conversation
type Manager struct {
	registry Registry
	creator  Creator
	clock    Clock
	timeout  time.Duration
	logger   *zap.Logger
	newID    func() string
}

// NewManager creates a manager. A zero timeout uses DefaultTimeout and a nil
// clock uses SystemClock.
func NewManager(registry Registry, creator Creator, clock Clock, timeout time.Duration, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = SystemClock
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: registry,
		creator:  creator,
		clock:    clock,
		timeout:  timeout,
		logger:   logger.Named("conversation"),
		newID:    uuid.NewString,
	}
}

// HandleTurn processes one utterance of a conversation. An empty id starts a
// new conversation with a generated id. Turns of one conversation must not be
// handled concurrently.
func (m *Manager) HandleTurn(ctx context.Context, id, utterance string) (Reply, error) {
	if id == "" {
		id = m.newID()
	}
	now := m.clock.Now()

	sess, ok, err := m.registry.Get(ctx, id)
	if err != nil {
		return Reply{ConversationID: id, State: StateIdle}, fmt.Errorf("load session: %w", err)
	}
	if ok && sess.Expired(now, m.timeout) {
		m.logger.Info("session expired", zap.String("conversation_id", id), zap.Time("last_activity_at", sess.LastActivityAt))
		if err := m.registry.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to drop expired session", zap.String("conversation_id", id), zap.Error(err))
		}
		metrics.RecordConversationTurn("expired")
		ok = false
	}

	if !ok || sess.State == StateIdle {
		return m.start(ctx, id, utterance, now)
	}

	switch sess.State {
	case StateCollecting:
		return m.collect(ctx, sess, utterance, now)
	case StateConfirming:
		return m.confirm(ctx, sess, utterance, now)
	default:
		return m.start(ctx, id, utterance, now)
	}
}

func (m *Manager) start(ctx context.Context, id, utterance string, now time.Time) (Reply, error) {
	ext := Parse(utterance)
	if !ext.Intent {
		metrics.RecordConversationTurn("passthrough")
		return Reply{ConversationID: id, State: StateIdle}, nil
	}
	sess := Session{ConversationID: id, State: StateCollecting}
	sess.Draft.merge(ext, true)
	m.logger.Info("automation dialogue started", zap.String("conversation_id", id))
	return m.advance(ctx, sess, now, "")
}

func (m *Manager) collect(ctx context.Context, sess Session, utterance string, now time.Time) (Reply, error) {
	if IsCancel(utterance) {
		return m.discard(ctx, sess.ConversationID, "Okay, I've cancelled the automation.")
	}
	ext := Parse(utterance)
	if ext.Intent {
		sess.Draft = Draft{}
	}
	sess.Draft.merge(ext, ext.Intent || sess.Draft.ActionCommand == "")
	return m.advance(ctx, sess, now, "")
}

func (m *Manager) confirm(ctx context.Context, sess Session, utterance string, now time.Time) (Reply, error) {
	if IsAffirmative(utterance) {
		// "okay, but make it 9pm" amends the draft instead of saving it
		if ext := Parse(stripAffirmative(utterance)); ext.corrections() {
			sess.Draft.merge(ext, false)
			return m.advance(ctx, sess, now, "Got it. ")
		}
		return m.commit(ctx, sess, now)
	}

	negative := IsNegative(utterance)
	text := utterance
	if negative {
		text = stripNegative(utterance)
	}
	ext := Parse(text)
	if ext.corrections() {
		sess.Draft.merge(ext, false)
		return m.advance(ctx, sess, now, "Got it. ")
	}
	if negative {
		return m.discard(ctx, sess.ConversationID, "Okay, I won't create that automation.")
	}

	sess.LastActivityAt = now
	if err := m.registry.Put(ctx, sess); err != nil {
		return Reply{ConversationID: sess.ConversationID, State: sess.State}, fmt.Errorf("save session: %w", err)
	}
	metrics.RecordConversationTurn("confirming")
	return m.reply(sess, "Should I save it? Please answer yes or no."), nil
}

// advance moves the session to CONFIRMING when the draft is complete and
// otherwise asks for the first missing field
func (m *Manager) advance(ctx context.Context, sess Session, now time.Time, prefix string) (Reply, error) {
	var response string
	if sess.Draft.IsComplete() {
		sess.State = StateConfirming
		response = prefix + m.summary(sess.Draft)
	} else {
		sess.State = StateCollecting
		response = prefix + sess.Draft.question()
	}
	sess.LastActivityAt = now
	if err := m.registry.Put(ctx, sess); err != nil {
		return Reply{ConversationID: sess.ConversationID, State: sess.State}, fmt.Errorf("save session: %w", err)
	}
	metrics.RecordConversationTurn(strings.ToLower(string(sess.State)))
	return m.reply(sess, response), nil
}

func (m *Manager) commit(ctx context.Context, sess Session, now time.Time) (Reply, error) {
	a, err := m.creator.Create(ctx, automation.NewAutomation{
		Name:    sess.Draft.Name,
		Trigger: sess.Draft.Trigger(),
		Action:  sess.Draft.Action(),
	})
	if err != nil {
		sess.LastActivityAt = now
		if putErr := m.registry.Put(ctx, sess); putErr != nil {
			m.logger.Warn("failed to keep session after create error", zap.String("conversation_id", sess.ConversationID), zap.Error(putErr))
		}
		m.logger.Warn("failed to create automation from conversation",
			zap.String("conversation_id", sess.ConversationID),
			zap.Error(err))
		return m.reply(sess, "I couldn't save that automation: "+err.Error()), err
	}

	if err := m.registry.Delete(ctx, sess.ConversationID); err != nil {
		m.logger.Warn("failed to drop committed session", zap.String("conversation_id", sess.ConversationID), zap.Error(err))
	}
	metrics.RecordConversationTurn("committed")
	m.logger.Info("automation created from conversation",
		zap.String("conversation_id", sess.ConversationID),
		zap.String("automation_id", a.ID))
	return Reply{
		ConversationID: sess.ConversationID,
		Response:       fmt.Sprintf("Done. Automation %q is saved.", a.Name),
		Consumed:       true,
		State:          StateIdle,
		Automation:     &a,
	}, nil
}

func (m *Manager) discard(ctx context.Context, id, response string) (Reply, error) {
	if err := m.registry.Delete(ctx, id); err != nil {
		return Reply{ConversationID: id, State: StateIdle}, fmt.Errorf("drop session: %w", err)
	}
	metrics.RecordConversationTurn("cancelled")
	m.logger.Info("automation dialogue cancelled", zap.String("conversation_id", id))
	return Reply{ConversationID: id, Response: response, Consumed: true, State: StateIdle}, nil
}

func (m *Manager) reply(sess Session, response string) Reply {
	return Reply{ConversationID: sess.ConversationID, Response: response, Consumed: true, State: sess.State}
}

func (m *Manager) summary(d Draft) string {
	name := d.Name
	if name == "" {
		name = automation.GenerateName(d.Action())
	}
	return fmt.Sprintf("I'll create an automation %q that will %s %s. Should I save it?",
		name, d.ActionCommand, d.describeTrigger())
}

// Session returns the live session of a conversation, if any
func (m *Manager) Session(ctx context.Context, id string) (Session, bool, error) {
	return m.registry.Get(ctx, id)
}

// Sweep drops every session idle longer than the timeout
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.registry.Sweep(ctx, m.clock.Now().Add(-m.timeout))
	if n > 0 {
		m.logger.Debug("expired sessions swept", zap.Int("count", n))
	}
	return n, err
}

// Run sweeps expired sessions every interval until ctx is done
func (m *Manager) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}
