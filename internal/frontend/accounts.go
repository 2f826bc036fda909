package frontend

import (
	"errors"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/api/rest"
)

// maskSecret keeps a short recognizable prefix and hides the rest. Secrets
// never leave the process in full once stored.
func maskSecret(s string) string {
	const keep = 4
	if len(s) <= keep {
		return "****"
	}
	return s[:keep] + "****"
}

func maskAccount(account api.Account) api.Account {
	account.ApplicationSecret = maskSecret(account.ApplicationSecret)
	account.ConsumerKey = maskSecret(account.ConsumerKey)
	return account
}

// ListAccounts returns all registered accounts with their secrets masked.
func (f *Frontend) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := lo.Map(f.store.ListAccounts(), func(account api.Account, _ int) api.Account {
		return maskAccount(account)
	})
	slices.SortFunc(accounts, func(a, b api.Account) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	_ = rest.WriteJSONResponse(w, http.StatusOK, accounts)
}

// CreateAccount registers a new set of OVH credentials. Aliases must be
// unique so header-based account selection stays unambiguous.
func (f *Frontend) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req api.AccountRequest
	if !f.decodeAndValidate(w, r, &req) {
		return
	}

	account := api.Account{
		ID:                uuid.NewString(),
		Alias:             req.Alias,
		Zone:              req.Zone,
		EndpointRegion:    req.EndpointRegion,
		ApplicationKey:    req.ApplicationKey,
		ApplicationSecret: req.ApplicationSecret,
		ConsumerKey:       req.ConsumerKey,
		CreatedAt:         f.now(),
	}

	err := f.store.MutateAccounts(func(accounts *[]api.Account) error {
		if account.Alias != "" {
			for _, existing := range *accounts {
				if existing.Alias == account.Alias {
					return rest.NewError(http.StatusConflict, rest.ErrorCodeConflict,
						"An account with alias %q already exists.", account.Alias)
				}
			}
		}
		*accounts = append(*accounts, account)
		return nil
	})
	if err != nil {
		var restErr *rest.Error
		if errors.As(err, &restErr) {
			rest.WriteErrorEnvelope(w, restErr)
			return
		}
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusCreated, maskAccount(account))
}

// DeleteAccount removes an account and evicts its pooled client. Tasks
// still referencing the account fail on their next attempt.
func (f *Frontend) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	found := false
	err := f.store.MutateAccounts(func(accounts *[]api.Account) error {
		kept := lo.Filter(*accounts, func(account api.Account, _ int) bool {
			return account.ID != id
		})
		found = len(kept) != len(*accounts)
		*accounts = kept
		return nil
	})
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}
	if !found {
		rest.WriteError(w, http.StatusNotFound, rest.ErrorCodeNotFound,
			"No account with id %q.", id)
		return
	}

	f.pool.Evict(id)

	w.WriteHeader(http.StatusNoContent)
}
