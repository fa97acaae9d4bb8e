// Package authz evaluates the permissions and quota carried in a token
// against what a route requires.
package authz

import (
	"sort"
	"strings"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/token"
)

// QuotaRequirement asks for at least Needed units of material MatCode.
type QuotaRequirement struct {
	MatCode int `json:"mat_code"`
	Needed  int `json:"needed"`
}

// QuotaShortfall reports a material whose ceiling is below what is needed.
type QuotaShortfall struct {
	MatCode int `json:"mat_code"`
	Needed  int `json:"needed"`
	Ceiling int `json:"ceiling"`
}

// Verdict is the outcome of Check. Both lists are sorted.
type Verdict struct {
	Ok                bool             `json:"ok"`
	MissingPerms      []string         `json:"missing_perms,omitempty"`
	InsufficientQuota []QuotaShortfall `json:"insufficient_quota,omitempty"`
}

// Err returns nil for an Ok verdict. Missing permissions take precedence
// over quota shortfalls.
func (v Verdict) Err() error {
	switch {
	case v.Ok:
		return nil
	case len(v.MissingPerms) > 0:
		return errors.Newf(errors.KindPermissionDenied, "missing permissions: %s", strings.Join(v.MissingPerms, ", "))
	default:
		return errors.Newf(errors.KindQuotaExceeded, "insufficient quota for %d material(s)", len(v.InsufficientQuota))
	}
}

// Check evaluates grant for app appCode. Every required codename must be
// granted for appCode, and for every quota requirement the highest maxnum
// granted for (appCode, mat_code) must cover the need; a material with no
// entry has ceiling 0. The result does not depend on the order of the
// inputs.
func Check(grant token.Grant, appCode int, requiredPerms []string, requiredQuota []QuotaRequirement) Verdict {
	granted := map[string]bool{}
	for _, p := range grant.Perms {
		if p.AppCode == appCode {
			granted[p.Codename] = true
		}
	}
	missing := map[string]bool{}
	for _, codename := range requiredPerms {
		if !granted[codename] {
			missing[codename] = true
		}
	}

	ceilings := map[int]int{}
	for _, q := range grant.Quota {
		if q.AppCode == appCode && q.MaxNum > ceilings[q.MatCode] {
			ceilings[q.MatCode] = q.MaxNum
		}
	}
	needed := map[int]int{}
	for _, q := range requiredQuota {
		if q.Needed > needed[q.MatCode] {
			needed[q.MatCode] = q.Needed
		}
	}

	v := Verdict{}
	for codename := range missing {
		v.MissingPerms = append(v.MissingPerms, codename)
	}
	sort.Strings(v.MissingPerms)
	for mat, n := range needed {
		if ceilings[mat] < n {
			v.InsufficientQuota = append(v.InsufficientQuota, QuotaShortfall{MatCode: mat, Needed: n, Ceiling: ceilings[mat]})
		}
	}
	sort.Slice(v.InsufficientQuota, func(i, j int) bool {
		return v.InsufficientQuota[i].MatCode < v.InsufficientQuota[j].MatCode
	})
	v.Ok = len(v.MissingPerms) == 0 && len(v.InsufficientQuota) == 0
	return v
}
