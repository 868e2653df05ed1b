package oauth

import (
	"context"
	"slices"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	GmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"
	GmailModifyScope   = "https://www.googleapis.com/auth/gmail.modify"
)

var googleIdentityScopes = []string{"openid", "email", "profile"}

type Google struct {
	base
}

func NewGoogle(opts Options) *Google {
	g := &Google{base: newBase("google", opts, google.Endpoint, googleUserInfoURL)}
	g.scopes = googleScopes
	g.authOpts = func(action Action) []oauth2.AuthCodeOption {
		if action != ActionAuthorize {
			return nil
		}
		// refresh token is only issued with offline access and a fresh consent
		return []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	}
	return g
}

func googleScopes(action Action) []string {
	if action == ActionAuthorize {
		return append(slices.Clone(googleIdentityScopes), GmailReadonlyScope, GmailModifyScope)
	}
	return slices.Clone(googleIdentityScopes)
}

// VerifyScopes checks that the user granted mailbox access.
func (g *Google) VerifyScopes(granted []string) bool {
	return VerifyScopes([]string{GmailReadonlyScope, GmailModifyScope}, granted)
}

type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (g *Google) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	var info googleUserInfo
	if err := g.fetchProfile(ctx, accessToken, &info); err != nil {
		return nil, err
	}
	return &Profile{
		AccountID: info.Sub,
		Email:     info.Email,
		Name:      info.Name,
		Picture:   info.Picture,
	}, nil
}
