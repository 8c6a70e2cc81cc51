package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placement/internal/models"
)

type fakeOrphans struct {
	orphaned  map[string]bool
	deleted   []string
	cutoff    time.Time
	deleteErr error
}

func (f *fakeOrphans) DeleteIfOrphaned(ctx context.Context, id string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	if !f.orphaned[id] {
		return false, nil
	}
	delete(f.orphaned, id)
	f.deleted = append(f.deleted, id)
	return true, nil
}

func (f *fakeOrphans) ListOrphaned(ctx context.Context, cutoff time.Time, limit int) ([]models.Credential, error) {
	f.cutoff = cutoff
	var out []models.Credential
	for id := range f.orphaned {
		out = append(out, models.Credential{ID: id})
	}
	return out, nil
}

type fakeSessions struct {
	purgedAt time.Time
}

func (f *fakeSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.purgedAt = now
	return 3, nil
}

func newTestProcessor(orphans *fakeOrphans, sessions *fakeSessions, now time.Time) *Processor {
	p := NewProcessor(orphans, sessions, 24*time.Hour, zerolog.Nop())
	p.now = func() time.Time { return now }
	return p
}

func TestHandleReconcile(t *testing.T) {
	orphans := &fakeOrphans{orphaned: map[string]bool{"cred-1": true}}
	p := newTestProcessor(orphans, &fakeSessions{}, time.Now())

	msg := redis.XMessage{ID: "1-0", Values: Task{
		Type:         TypeReconcileCredential,
		CredentialID: "cred-1",
		Reason:       "save student profile: quota exceeded",
	}.Values()}
	require.NoError(t, p.Handle(context.Background(), msg))
	assert.Equal(t, []string{"cred-1"}, orphans.deleted)

	// A credential that gained an account is kept.
	msg.Values = Task{Type: TypeReconcileCredential, CredentialID: "cred-2"}.Values()
	require.NoError(t, p.Handle(context.Background(), msg))
	assert.Len(t, orphans.deleted, 1)
}

func TestHandleReconcileErrorIsReturned(t *testing.T) {
	storeErr := errors.New("connection refused")
	p := newTestProcessor(&fakeOrphans{deleteErr: storeErr}, &fakeSessions{}, time.Now())

	err := p.Handle(context.Background(), redis.XMessage{Values: Task{
		Type:         TypeReconcileCredential,
		CredentialID: "cred-1",
	}.Values()})
	require.ErrorIs(t, err, storeErr)
}

func TestHandleSweepUsesGrace(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	orphans := &fakeOrphans{orphaned: map[string]bool{"a": true, "b": true}}
	p := newTestProcessor(orphans, &fakeSessions{}, now)

	require.NoError(t, p.Handle(context.Background(), redis.XMessage{Values: Task{Type: TypeSweepOrphans}.Values()}))
	assert.Equal(t, now.Add(-24*time.Hour), orphans.cutoff)
	assert.ElementsMatch(t, []string{"a", "b"}, orphans.deleted)
}

func TestHandlePurge(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{}
	p := newTestProcessor(&fakeOrphans{}, sessions, now)

	require.NoError(t, p.Handle(context.Background(), redis.XMessage{Values: map[string]interface{}{"type": TypePurgeSessions}}))
	assert.Equal(t, now, sessions.purgedAt)
}

func TestHandleUnknownTypeIsDropped(t *testing.T) {
	p := newTestProcessor(&fakeOrphans{}, &fakeSessions{}, time.Now())
	require.NoError(t, p.Handle(context.Background(), redis.XMessage{Values: map[string]interface{}{"type": "reindex"}}))
}
