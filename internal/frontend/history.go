package frontend

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/samber/lo"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/api/rest"
)

// ListPurchaseHistory returns purchase attempts, newest first, filtered to
// the active account unless scope=all. A limit query parameter bounds the
// result.
func (f *Frontend) ListPurchaseHistory(w http.ResponseWriter, r *http.Request) {
	entries := f.store.ListHistory()
	if !scopeAll(r) {
		if account, ok := f.activeAccount(r); ok {
			entries = lo.Filter(entries, func(entry api.PurchaseHistoryEntry, _ int) bool {
				return entry.AccountID == account.ID
			})
		} else {
			entries = []api.PurchaseHistoryEntry{}
		}
	}

	slices.SortFunc(entries, func(a, b api.PurchaseHistoryEntry) int {
		return b.PurchaseTime.Compare(a.PurchaseTime)
	})

	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v < len(entries) {
		entries = entries[:v]
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, entries)
}

// ClearPurchaseHistory deletes history entries, scoped to the active
// account unless scope=all.
func (f *Frontend) ClearPurchaseHistory(w http.ResponseWriter, r *http.Request) {
	all := scopeAll(r)
	var account api.Account
	if !all {
		var ok bool
		account, ok = f.activeAccount(r)
		if !ok {
			_ = rest.WriteJSONResponse(w, http.StatusOK, map[string]int{"deleted": 0})
			return
		}
	}

	deleted := 0
	err := f.store.MutateHistory(func(entries *[]api.PurchaseHistoryEntry) error {
		kept := lo.Filter(*entries, func(entry api.PurchaseHistoryEntry, _ int) bool {
			return !all && entry.AccountID != account.ID
		})
		deleted = len(*entries) - len(kept)
		*entries = kept
		return nil
	})
	if err != nil {
		f.logger.Error(err.Error())
		rest.WriteInternalServerError(w)
		return
	}

	_ = rest.WriteJSONResponse(w, http.StatusOK, map[string]int{"deleted": deleted})
}
