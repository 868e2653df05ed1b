package oauth

import (
	"context"
	"slices"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphMeURL = "https://graph.microsoft.com/v1.0/me"

var microsoftIdentityScopes = []string{"openid", "profile", "email", "offline_access", "User.Read"}

type Microsoft struct {
	base
}

func NewMicrosoft(opts Options) *Microsoft {
	m := &Microsoft{base: newBase("microsoft", opts, microsoft.AzureADEndpoint("common"), graphMeURL)}
	m.scopes = microsoftScopes
	m.authOpts = func(action Action) []oauth2.AuthCodeOption {
		if action != ActionAuthorize {
			return nil
		}
		return []oauth2.AuthCodeOption{oauth2.ApprovalForce}
	}
	return m
}

func microsoftScopes(action Action) []string {
	if action == ActionAuthorize {
		return append(slices.Clone(microsoftIdentityScopes), "Mail.ReadWrite", "Mail.Send")
	}
	return slices.Clone(microsoftIdentityScopes)
}

// VerifyScopes always passes; Azure AD fails the exchange itself on declined consent.
func (m *Microsoft) VerifyScopes([]string) bool { return true }

type graphUser struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
}

func (m *Microsoft) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	var u graphUser
	if err := m.fetchProfile(ctx, accessToken, &u); err != nil {
		return nil, err
	}
	email := u.Mail
	if email == "" {
		email = u.UserPrincipalName
	}
	return &Profile{
		AccountID: u.ID,
		Email:     email,
		Name:      u.DisplayName,
	}, nil
}
