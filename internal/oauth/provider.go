// Package oauth adapts the Google and Microsoft OAuth2 flows used for sign-in and mailbox connection.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/oauth2"
)

// Action is what the user is doing when they start a flow.
type Action string

const (
	ActionLogin     Action = "login"
	ActionSignup    Action = "signup"
	ActionAuthorize Action = "authorize"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrUnknownAction   = errors.New("unknown oauth action")
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionLogin, ActionSignup, ActionAuthorize:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Profile is the normalized account identity returned by a provider.
type Profile struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Picture   string `json:"picture,omitempty"`
}

type Provider interface {
	Name() string
	AuthCodeURL(action Action, state, verifier string) string
	Exchange(ctx context.Context, action Action, code, verifier string) (*oauth2.Token, error)
	Profile(ctx context.Context, accessToken string) (*Profile, error)
	RequiredScopes(action Action) []string
	VerifyScopes(granted []string) bool
}

// Error wraps a failed token exchange or profile lookup.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// VerifyScopes reports whether every required scope was granted.
func VerifyScopes(required, granted []string) bool {
	for _, s := range required {
		if !slices.Contains(granted, s) {
			return false
		}
	}
	return true
}

// GrantedScopes reads the space-separated scope list a token endpoint returned.
func GrantedScopes(tok *oauth2.Token) []string {
	if tok == nil {
		return nil
	}
	s, _ := tok.Extra("scope").(string)
	return strings.Fields(s)
}

// Options configures one provider.
type Options struct {
	ClientID     string
	ClientSecret string
	// RedirectURL returns the callback URL registered for an action.
	RedirectURL func(Action) string
	HTTPClient  *http.Client

	// Endpoint and ProfileURL override the public endpoints.
	Endpoint   *oauth2.Endpoint
	ProfileURL string
}

// base holds what Google and Microsoft share.
type base struct {
	name       string
	opts       Options
	endpoint   oauth2.Endpoint
	profileURL string
	scopes     func(Action) []string
	authOpts   func(Action) []oauth2.AuthCodeOption
}

func newBase(name string, opts Options, endpoint oauth2.Endpoint, profileURL string) base {
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}
	if opts.ProfileURL != "" {
		profileURL = opts.ProfileURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return base{name: name, opts: opts, endpoint: endpoint, profileURL: profileURL}
}

func (b *base) Name() string { return b.name }

func (b *base) RequiredScopes(action Action) []string { return b.scopes(action) }

func (b *base) config(action Action) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     b.opts.ClientID,
		ClientSecret: b.opts.ClientSecret,
		Endpoint:     b.endpoint,
		Scopes:       b.scopes(action),
	}
	if b.opts.RedirectURL != nil {
		cfg.RedirectURL = b.opts.RedirectURL(action)
	}
	return cfg
}

func (b *base) AuthCodeURL(action Action, state, verifier string) string {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	if b.authOpts != nil {
		opts = append(opts, b.authOpts(action)...)
	}
	return b.config(action).AuthCodeURL(state, opts...)
}

func (b *base) Exchange(ctx context.Context, action Action, code, verifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.opts.HTTPClient)

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := b.config(action).Exchange(ctx, code, opts...)
	if err != nil {
		return nil, &Error{Provider: b.name, Op: "exchange", Err: err}
	}
	return tok, nil
}

// fetchProfile GETs the userinfo endpoint and decodes it into dst.
func (b *base) fetchProfile(ctx context.Context, accessToken string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.profileURL, nil)
	if err != nil {
		return &Error{Provider: b.name, Op: "profile", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.opts.HTTPClient.Do(req)
	if err != nil {
		return &Error{Provider: b.name, Op: "profile", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &Error{
			Provider: b.name,
			Op:       "profile",
			Err:      fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &Error{Provider: b.name, Op: "profile", Err: fmt.Errorf("decode userinfo: %w", err)}
	}
	return nil
}
