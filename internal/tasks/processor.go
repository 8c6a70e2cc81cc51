package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"placement/internal/models"
)

const (
	TypeReconcileCredential = "reconcile_credential"
	TypeSweepOrphans        = "sweep_orphans"
	TypePurgeSessions       = "purge_sessions"
)

const sweepBatch = 100

// Task is the payload carried on the reconcile stream.
type Task struct {
	Type         string `json:"type"`
	CredentialID string `json:"credentialId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Values flattens the task into stream fields.
func (t Task) Values() map[string]any {
	values := map[string]any{"type": t.Type}
	if t.CredentialID != "" {
		values["credentialId"] = t.CredentialID
	}
	if t.Reason != "" {
		values["reason"] = t.Reason
	}
	return values
}

type OrphanStore interface {
	DeleteIfOrphaned(ctx context.Context, id string) (bool, error)
	ListOrphaned(ctx context.Context, cutoff time.Time, limit int) ([]models.Credential, error)
}

type SessionStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Processor struct {
	credentials OrphanStore
	sessions    SessionStore
	orphanGrace time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewProcessor(credentials OrphanStore, sessions SessionStore, orphanGrace time.Duration, logger zerolog.Logger) *Processor {
	return &Processor{
		credentials: credentials,
		sessions:    sessions,
		orphanGrace: orphanGrace,
		logger:      logger,
		now:         time.Now,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var task Task
	if err := decodePayload(msg.Values, &task); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch task.Type {
	case TypeReconcileCredential:
		return p.handleReconcile(ctx, task)
	case TypeSweepOrphans:
		return p.handleSweep(ctx)
	case TypePurgeSessions:
		return p.handlePurge(ctx)
	default:
		p.logger.Warn().Str("type", task.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *Task) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}

// handleReconcile deletes the credential if it still has no account record.
// A credential whose registration was later completed is left alone.
func (p *Processor) handleReconcile(ctx context.Context, task Task) error {
	if task.CredentialID == "" {
		p.logger.Warn().Msg("reconcile task without credential id")
		return nil
	}

	deleted, err := p.credentials.DeleteIfOrphaned(ctx, task.CredentialID)
	if err != nil {
		return fmt.Errorf("reconcile credential %s: %w", task.CredentialID, err)
	}

	p.logger.Info().
		Str("credential_id", task.CredentialID).
		Str("reason", task.Reason).
		Bool("deleted", deleted).
		Msg("credential reconciled")
	return nil
}

func (p *Processor) handleSweep(ctx context.Context) error {
	cutoff := p.now().Add(-p.orphanGrace)
	orphans, err := p.credentials.ListOrphaned(ctx, cutoff, sweepBatch)
	if err != nil {
		return fmt.Errorf("list orphaned credentials: %w", err)
	}

	removed := 0
	for _, cred := range orphans {
		deleted, err := p.credentials.DeleteIfOrphaned(ctx, cred.ID)
		if err != nil {
			p.logger.Error().Err(err).Str("credential_id", cred.ID).Msg("delete orphaned credential failed")
			continue
		}
		if deleted {
			removed++
		}
	}

	p.logger.Info().Int("found", len(orphans)).Int("removed", removed).Msg("orphan sweep finished")
	return nil
}

func (p *Processor) handlePurge(ctx context.Context) error {
	n, err := p.sessions.DeleteExpired(ctx, p.now())
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	p.logger.Info().Int64("removed", n).Msg("expired sessions purged")
	return nil
}
