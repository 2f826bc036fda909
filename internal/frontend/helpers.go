package frontend

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/api/rest"
)

// maxRequestBody bounds control-plane request bodies.
const maxRequestBody = 1 << 20

// decodeAndValidate reads the request body into v and runs static
// validation. Unknown fields are ignored on read. On failure an error
// response has already been written and false is returned.
func (f *Frontend) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		rest.WriteInternalServerError(w)
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		rest.WriteUnmarshalError(w, err)
		return false
	}

	if err := f.validate.Struct(v); err != nil {
		rest.WriteError(w, http.StatusBadRequest, rest.ErrorCodeInvalidParameter,
			"%s", api.ValidationMessage(err))
		return false
	}

	return true
}

// activeAccount resolves the account context of a request: the
// X-OVH-Account header, falling back to the account aliased "default",
// then to the first registered account.
func (f *Frontend) activeAccount(r *http.Request) (api.Account, bool) {
	if id := r.Header.Get(HeaderNameAccount); id != "" {
		return f.store.GetAccount(id)
	}
	accounts := f.store.ListAccounts()
	for _, account := range accounts {
		if account.Alias == "default" {
			return account, true
		}
	}
	if len(accounts) > 0 {
		return accounts[0], true
	}
	return api.Account{}, false
}

// scopeAll reports whether the request asks for all accounts' entities
// rather than just the active account's.
func scopeAll(r *http.Request) bool {
	return r.URL.Query().Get("scope") == "all"
}
