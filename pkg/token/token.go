// Package token holds the access token claims and the RS256 codec that
// signs and verifies them.
package token

import (
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PrivStatus is the account privilege carried in priv_status.
type PrivStatus int

const (
	PrivNone PrivStatus = iota
	PrivStaff
	PrivSuperuser
)

// Perm grants codename within the app identified by AppCode.
type Perm struct {
	AppCode  int    `json:"app_code"`
	Codename string `json:"codename"`
}

// Quota is the ceiling MaxNum on material MatCode of app AppCode.
type Quota struct {
	AppCode int `json:"app_code"`
	MatCode int `json:"mat_code"`
	MaxNum  int `json:"maxnum"`
}

// Grant is what the user-management service knows about a profile and
// embeds into every token issued for it.
type Grant struct {
	Profile    int        `json:"profile"`
	PrivStatus PrivStatus `json:"priv_status,omitempty"`
	Perms      []Perm     `json:"perms"`
	Quota      []Quota    `json:"quota"`
	Roles      []int      `json:"roles,omitempty"`
}

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Grant
}

// IsSuperuser reports whether priv_status is superuser
func (g Grant) IsSuperuser() bool {
	return g.PrivStatus == PrivSuperuser
}

// HasPerm reports whether codename is granted for appCode
func (g Grant) HasPerm(appCode int, codename string) bool {
	for _, p := range g.Perms {
		if p.AppCode == appCode && p.Codename == codename {
			return true
		}
	}
	return false
}

// HasApp reports whether any permission is granted for appCode
func (g Grant) HasApp(appCode int) bool {
	for _, p := range g.Perms {
		if p.AppCode == appCode {
			return true
		}
	}
	return false
}

// ForApps keeps only the perms and quota of the given app codes.
func (g Grant) ForApps(appCodes []int) Grant {
	keep := map[int]bool{}
	for _, c := range appCodes {
		keep[c] = true
	}
	out := g
	out.Perms = []Perm{}
	out.Quota = []Quota{}
	for _, p := range g.Perms {
		if keep[p.AppCode] {
			out.Perms = append(out.Perms, p)
		}
	}
	for _, q := range g.Quota {
		if keep[q.AppCode] {
			out.Quota = append(out.Quota, q)
		}
	}
	return out
}

// Normalize sorts copies of perms and quota, so issued tokens always carry
// both claims in a stable order.
func (g *Grant) Normalize() {
	g.Perms = append([]Perm{}, g.Perms...)
	g.Quota = append([]Quota{}, g.Quota...)
	sort.Slice(g.Perms, func(i, j int) bool {
		if g.Perms[i].AppCode != g.Perms[j].AppCode {
			return g.Perms[i].AppCode < g.Perms[j].AppCode
		}
		return g.Perms[i].Codename < g.Perms[j].Codename
	})
	sort.Slice(g.Quota, func(i, j int) bool {
		if g.Quota[i].AppCode != g.Quota[j].AppCode {
			return g.Quota[i].AppCode < g.Quota[j].AppCode
		}
		if g.Quota[i].MatCode != g.Quota[j].MatCode {
			return g.Quota[i].MatCode < g.Quota[j].MatCode
		}
		return g.Quota[i].MaxNum < g.Quota[j].MaxNum
	})
}

// Validate checks the invariants a token must satisfy before it is signed:
// exp > iat >= nbf, a non-empty audience and no duplicate perms or quota.
func (c Claims) Validate() error {
	if len(c.Audience) == 0 {
		return fmt.Errorf("aud must not be empty")
	}
	if c.ExpiresAt == nil {
		return fmt.Errorf("exp is required")
	}
	if c.IssuedAt != nil && !c.ExpiresAt.After(c.IssuedAt.Time) {
		return fmt.Errorf("exp must be after iat")
	}
	if c.IssuedAt != nil && c.NotBefore != nil && c.IssuedAt.Before(c.NotBefore.Time) {
		return fmt.Errorf("iat must not be before nbf")
	}
	if c.Profile <= 0 {
		return fmt.Errorf("profile must be positive")
	}

	perms := map[Perm]bool{}
	for _, p := range c.Perms {
		if perms[p] {
			return fmt.Errorf("duplicate perm %d/%s", p.AppCode, p.Codename)
		}
		perms[p] = true
	}
	quota := map[Quota]bool{}
	for _, q := range c.Quota {
		if quota[q] {
			return fmt.Errorf("duplicate quota %d/%d/%d", q.AppCode, q.MatCode, q.MaxNum)
		}
		quota[q] = true
	}
	return nil
}

// Remaining returns how long the token stays valid after now, zero when it
// has no expiry or already expired.
func (c Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
