package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"placement/internal/models"
)

func TestNew_StartsLoadingAndEmpty(t *testing.T) {
	s := New().Snapshot()
	assert.True(t, s.Loading)
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.Role)
	assert.NoError(t, s.Err)
}

func TestSetters(t *testing.T) {
	st := New()
	st.SetAccount(Account{ID: "acc-1", Name: "Ann", Email: "a@x.com"})
	st.SetRole(models.RoleStudent)
	st.SetLoading(false)
	st.SetError(errors.New("boom"))

	s := st.Snapshot()
	assert.Equal(t, "acc-1", s.AccountID)
	assert.Equal(t, "Ann", s.Name)
	assert.Equal(t, "a@x.com", s.Email)
	assert.Equal(t, models.RoleStudent, s.Role)
	assert.False(t, s.Loading)
	assert.EqualError(t, s.Err, "boom")
}

func TestClear_KeepsLoading(t *testing.T) {
	st := New()
	st.SetAccount(Account{ID: "acc-1"})
	st.SetRole(models.RoleAdmin)
	st.SetError(errors.New("boom"))

	st.Clear()
	s := st.Snapshot()
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.Role)
	assert.NoError(t, s.Err)
	assert.True(t, s.Loading)

	st.SetLoading(false)
	st.Clear()
	assert.False(t, st.Snapshot().Loading)
}

func TestSignedOut_KeepsError(t *testing.T) {
	st := New()
	st.SetAccount(Account{ID: "acc-1"})
	st.SetRole(models.RoleStudent)
	st.SetError(errors.New("account blocked"))

	st.SignedOut()
	s := st.Snapshot()
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.Role)
	assert.EqualError(t, s.Err, "account blocked")
	assert.True(t, s.Loading)
}

func TestConcurrentAccess(t *testing.T) {
	st := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.SetAccount(Account{ID: "acc"})
			st.SetRole(models.RoleRecruiter)
			st.Clear()
		}()
		go func() {
			defer wg.Done()
			_ = st.Snapshot()
		}()
	}
	wg.Wait()
}
