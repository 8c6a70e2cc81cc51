package remote

import (
	"context"
	"net/http"
	"net/url"

	"placement/internal/models"
)

func escape(segment string) string {
	return url.PathEscape(segment)
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	var resp struct {
		Account models.Account `json:"account"`
	}
	if err := s.do(ctx, request{method: http.MethodGet, path: "/records/accounts/" + escape(id), signed: true}, &resp); err != nil {
		return models.Account{}, err
	}
	return resp.Account, nil
}

func (s *Store) PutAccount(ctx context.Context, account models.Account) error {
	return s.do(ctx, request{
		method: http.MethodPut,
		path:   "/records/accounts/" + escape(account.ID),
		body:   account,
		signed: true,
	}, nil)
}

func (s *Store) PatchAccount(ctx context.Context, id string, patch models.AccountPatch) error {
	return s.do(ctx, request{
		method: http.MethodPatch,
		path:   "/records/accounts/" + escape(id),
		body:   patch,
		signed: true,
	}, nil)
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.do(ctx, request{method: http.MethodDelete, path: "/records/accounts/" + escape(id), signed: true}, nil)
}

func (s *Store) ListAccounts(ctx context.Context, role models.Role) ([]models.Account, error) {
	var resp struct {
		Accounts []models.Account `json:"accounts"`
	}
	err := s.do(ctx, request{
		method: http.MethodGet,
		path:   "/records/accounts",
		query:  url.Values{"role": {string(role)}},
		signed: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Accounts == nil {
		resp.Accounts = []models.Account{}
	}
	return resp.Accounts, nil
}

func (s *Store) GetProfile(ctx context.Context, accountID string) (models.StudentProfile, error) {
	var resp struct {
		Profile models.StudentProfile `json:"profile"`
	}
	if err := s.do(ctx, request{method: http.MethodGet, path: "/records/profiles/" + escape(accountID), signed: true}, &resp); err != nil {
		return models.StudentProfile{}, err
	}
	return resp.Profile, nil
}

func (s *Store) PutProfile(ctx context.Context, profile models.StudentProfile) error {
	return s.do(ctx, request{
		method: http.MethodPut,
		path:   "/records/profiles/" + escape(profile.AccountID),
		body:   profile,
		signed: true,
	}, nil)
}

// Reconcile asks the server to queue credentialID for the orphan check.
func (s *Store) Reconcile(ctx context.Context, credentialID string, reason string) error {
	return s.do(ctx, request{
		method: http.MethodPost,
		path:   "/credentials/" + escape(credentialID) + "/reconcile",
		body:   map[string]string{"reason": reason},
		signed: true,
	}, nil)
}
