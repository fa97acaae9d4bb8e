// Package profile loads what the user-management service knows about a
// profile and turns it into the grant embedded in access tokens.
//
// Two storage backends implement Store:
//   - PostgresStore reads the authcore_profile* tables with pgx
//   - FileStore reads a JSON document, for development and tests
//
// Service.Grant is what the claim refresh RPC handler calls.
package profile

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinzhu/copier"
	"github.com/juju/clock"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/token"
)

// ErrNotFound is returned by stores for unknown profile ids.
var ErrNotFound = stderrors.New("profile not found")

// Record is a stored profile with its role, permission and quota rows.
type Record struct {
	ID         int           `json:"id"`
	Active     bool          `json:"active"`
	PrivStatus int           `json:"priv_status"`
	Roles      []RoleRecord  `json:"roles"`
	Perms      []PermRecord  `json:"perms"`
	Quota      []QuotaRecord `json:"quota"`
}

type RoleRecord struct {
	RoleID int        `json:"role_id"`
	Expiry *time.Time `json:"expiry,omitempty"`
}

type PermRecord struct {
	AppCode  int    `json:"app_code"`
	Codename string `json:"codename"`
}

type QuotaRecord struct {
	AppCode int        `json:"app_code"`
	MatCode int        `json:"mat_code"`
	MaxNum  int        `json:"maxnum"`
	Expiry  *time.Time `json:"expiry,omitempty"`
}

// Store loads profile records
type Store interface {
	Get(ctx context.Context, id int) (Record, error)
}

// Service builds token grants from a Store.
type Service struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock sets the clock used to drop expired roles and quota
func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a profile service over store
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, clock: clock.WallClock, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant loads profile id and returns its grant. Unknown and inactive
// profiles are refused with PermissionDenied.
func (s *Service) Grant(ctx context.Context, id int) (token.Grant, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return token.Grant{}, errors.Wrapf(err, errors.KindPermissionDenied, "profile %d not found", id)
		}
		s.logger.Error("Failed to load profile", "profile", id, "err", err)
		return token.Grant{}, fmt.Errorf("failed to load profile %d: %w", id, err)
	}
	if !rec.Active {
		return token.Grant{}, errors.Newf(errors.KindPermissionDenied, "profile %d is inactive", id)
	}
	return ToGrant(rec, s.clock.Now())
}

// ToGrant converts rec into a grant as of now. Expired roles and quota are
// dropped, duplicate perms collapse and quota on the same material keeps
// the highest ceiling.
func ToGrant(rec Record, now time.Time) (token.Grant, error) {
	grant := token.Grant{
		Profile:    rec.ID,
		PrivStatus: token.PrivStatus(rec.PrivStatus),
		Perms:      []token.Perm{},
		Quota:      []token.Quota{},
	}

	if err := copier.Copy(&grant.Perms, uniquePerms(rec.Perms)); err != nil {
		return token.Grant{}, fmt.Errorf("failed to copy perms: %w", err)
	}
	if err := copier.Copy(&grant.Quota, mergeQuota(rec.Quota, now)); err != nil {
		return token.Grant{}, fmt.Errorf("failed to copy quota: %w", err)
	}
	for _, r := range rec.Roles {
		if r.Expiry == nil || r.Expiry.After(now) {
			grant.Roles = append(grant.Roles, r.RoleID)
		}
	}
	grant.Normalize()
	return grant, nil
}

func uniquePerms(perms []PermRecord) []PermRecord {
	seen := map[PermRecord]bool{}
	out := []PermRecord{}
	for _, p := range perms {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func mergeQuota(quota []QuotaRecord, now time.Time) []QuotaRecord {
	type key struct{ app, mat int }
	idx := map[key]int{}
	out := []QuotaRecord{}
	for _, q := range quota {
		if q.Expiry != nil && !q.Expiry.After(now) {
			continue
		}
		k := key{q.AppCode, q.MatCode}
		if i, ok := idx[k]; ok {
			if q.MaxNum > out[i].MaxNum {
				out[i].MaxNum = q.MaxNum
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, q)
	}
	return out
}
