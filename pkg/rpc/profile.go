package rpc

import (
	"context"
	"encoding/json"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/token"
)

// Operations served by the user-management service.
const (
	UserManagementService = "user_management"
	OpGetProfile          = "get_profile"
)

// GetProfileKey is the routing key of the claim refresh operation
var GetProfileKey = RoutingKey(UserManagementService, OpGetProfile)

// GrantLoader returns the current grant of a profile. profile.Service
// implements it.
type GrantLoader interface {
	Grant(ctx context.Context, id int) (token.Grant, error)
}

// ProfileClient fetches fresh claims from user-management.
type ProfileClient struct {
	client *Client
}

// NewProfileClient creates a stub calling through client
func NewProfileClient(client *Client) *ProfileClient {
	return &ProfileClient{client: client}
}

// FetchProfile returns the profile-bound claims of id, serialised the same
// way the codec embeds them in tokens.
func (p *ProfileClient) FetchProfile(ctx context.Context, id int) (token.Grant, error) {
	raw, err := p.client.Call(ctx, GetProfileKey, NewRequest(map[string]any{"id": id}))
	if err != nil {
		return token.Grant{}, err
	}
	var grant token.Grant
	if err := json.Unmarshal(raw, &grant); err != nil {
		return token.Grant{}, errors.Wrap(err, errors.KindDecode, "malformed get_profile result")
	}
	if grant.Profile != id {
		return token.Grant{}, errors.Newf(errors.KindDecode, "get_profile returned profile %d for %d", grant.Profile, id)
	}
	if grant.Perms == nil {
		grant.Perms = []token.Perm{}
	}
	if grant.Quota == nil {
		grant.Quota = []token.Quota{}
	}
	return grant, nil
}

// ProfileHandler serves get_profile from loader.
func ProfileHandler(loader GrantLoader) HandlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		var id int
		if err := req.Kwarg("id", &id); err != nil {
			return nil, err
		}
		if id <= 0 {
			return nil, errors.Newf(errors.KindDecode, "invalid profile id %d", id)
		}
		grant, err := loader.Grant(ctx, id)
		if err != nil {
			return nil, err
		}
		grant.Normalize()
		return grant, nil
	}
}
