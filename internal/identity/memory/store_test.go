package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placement/internal/identity"
	"placement/internal/models"
)

func TestCredentialsSignInOut(t *testing.T) {
	ctx := context.Background()
	s := New()

	cred, err := s.CreateCredential(ctx, " User@X.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "user@x.com", cred.Email)
	require.NotNil(t, s.Current())
	assert.Equal(t, cred.ID, s.Current().ID)

	_, err = s.CreateCredential(ctx, "user@x.com", "other12")
	require.ErrorIs(t, err, identity.ErrEmailTaken)

	require.NoError(t, s.SignOut(ctx))
	assert.Nil(t, s.Current())

	_, err = s.SignIn(ctx, "user@x.com", "wrong12")
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)
	_, err = s.SignIn(ctx, "nobody@x.com", "secret1")
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)

	got, err := s.SignIn(ctx, "USER@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)
}

func TestSignInRecordOnlyAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutAccount(ctx, models.Account{
		ID:    "acc-1",
		Email: "hr@acme.com",
		Role:  models.RoleRecruiter,
	}))

	_, err := s.SignIn(ctx, "hr@acme.com", "whatever")
	require.ErrorIs(t, err, identity.ErrCredentialNotProvisioned)
}

func TestDeleteCredentialSignsOutCurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	cred, err := s.CreateCredential(ctx, "a@x.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, s.DeleteCredential(ctx, cred.ID))
	assert.Nil(t, s.Current())
	assert.False(t, s.HasCredential("a@x.com"))
	require.ErrorIs(t, s.DeleteCredential(ctx, cred.ID), identity.ErrNotFound)
}

func TestWatchFollowsCredential(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()

	events := s.Watch(ctx)
	first := <-events
	assert.False(t, first.SignedIn())

	cred, err := s.CreateCredential(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.True(t, ev.SignedIn())
		assert.Equal(t, cred.ID, ev.Credential.ID)
	case <-time.After(time.Second):
		t.Fatal("no event after sign in")
	}
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.PutAccount(ctx, models.Account{ID: "1", Email: "A@x.com", Role: models.RoleStudent, CreatedAt: created}))
	require.NoError(t, s.PutAccount(ctx, models.Account{ID: "2", Email: "b@x.com", Role: models.RoleRecruiter}))
	require.ErrorIs(t, s.PutAccount(ctx, models.Account{ID: "3", Email: "a@X.com"}), identity.ErrEmailTaken)
	require.Error(t, s.PutAccount(ctx, models.Account{Email: "c@x.com"}))

	acc, err := s.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", acc.Email)
	assert.Equal(t, created, acc.CreatedAt)

	// Rewriting keeps the original creation time.
	require.NoError(t, s.PutAccount(ctx, models.Account{ID: "1", Email: "a@x.com", Role: models.RoleStudent, Name: "Asha"}))
	acc, err = s.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, created, acc.CreatedAt)
	assert.Equal(t, "Asha", acc.Name)

	approved := models.StatusApproved
	require.NoError(t, s.PatchAccount(ctx, "1", models.AccountPatch{Status: &approved}))
	require.NoError(t, s.PutAccount(ctx, models.Account{ID: "1", Email: "a@x.com", Role: models.RoleAdmin, Status: models.StatusPending, Name: "Asha"}))
	acc, err = s.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, acc.Role)
	assert.Equal(t, models.StatusApproved, acc.Status)

	blocked := true
	require.NoError(t, s.PatchAccount(ctx, "1", models.AccountPatch{Blocked: &blocked}))
	acc, err = s.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.True(t, acc.Blocked)
	require.ErrorIs(t, s.PatchAccount(ctx, "9", models.AccountPatch{Blocked: &blocked}), identity.ErrNotFound)

	students, err := s.ListAccounts(ctx, models.RoleStudent)
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "1", students[0].ID)

	require.NoError(t, s.DeleteAccount(ctx, "1"))
	_, err = s.GetAccount(ctx, "1")
	require.ErrorIs(t, err, identity.ErrNotFound)
	require.ErrorIs(t, s.DeleteAccount(ctx, "1"), identity.ErrNotFound)
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetProfile(ctx, "1")
	require.ErrorIs(t, err, identity.ErrNotFound)

	require.NoError(t, s.PutProfile(ctx, models.StudentProfile{AccountID: "1", Branch: "CSE", CGPA: 8.1}))
	p, err := s.GetProfile(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "CSE", p.Branch)
	assert.False(t, p.CreatedAt.IsZero())

	require.Error(t, s.PutProfile(ctx, models.StudentProfile{}))
}

func TestReconcileRecordsRequests(t *testing.T) {
	s := New()
	require.NoError(t, s.Reconcile(context.Background(), "cred-1", "profile write failed"))

	got := s.Reconciles()
	require.Len(t, got, 1)
	assert.Equal(t, ReconcileRequest{CredentialID: "cred-1", Reason: "profile write failed"}, got[0])
}
