package authz

import (
	"net/http"
	"sort"

	"github.com/tendant/authcore/pkg/token"
)

// AnyMethod keys the permissions required whatever the HTTP method.
const AnyMethod = "*"

// Requirement is what a route demands from the caller's token.
type Requirement struct {
	AppCode int
	// Perms maps an HTTP method to the codenames it requires. Entries
	// under AnyMethod apply to every method.
	Perms map[string][]string
	Quota []QuotaRequirement
	// SuperuserBypass lets priv_status superuser through unconditionally.
	SuperuserBypass bool
}

// PermsFor returns the sorted codenames required for method.
func (r Requirement) PermsFor(method string) []string {
	set := map[string]bool{}
	for _, p := range r.Perms[AnyMethod] {
		set[p] = true
	}
	for _, p := range r.Perms[method] {
		set[p] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Evaluate checks grant for a request with the given method.
func (r Requirement) Evaluate(grant token.Grant, method string) Verdict {
	if r.SuperuserBypass && grant.IsSuperuser() {
		return Verdict{Ok: true}
	}
	return Check(grant, r.AppCode, r.PermsFor(method), r.Quota)
}

// ModelPerms returns the conventional per-method codenames for a model:
// view for reads, view plus add/change/delete for writes.
func ModelPerms(model string) map[string][]string {
	view := "view_" + model
	return map[string][]string{
		http.MethodGet:     {view},
		http.MethodHead:    {},
		http.MethodOptions: {},
		http.MethodPost:    {view, "add_" + model},
		http.MethodPut:     {view, "change_" + model},
		http.MethodPatch:   {view, "change_" + model},
		http.MethodDelete:  {view, "delete_" + model},
	}
}

