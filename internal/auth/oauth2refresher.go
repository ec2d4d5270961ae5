package auth

import (
	"context"
	"errors"
	"net/http"
	"tether/internal/types"

	"golang.org/x/oauth2"
)

// OAuth2Refresher runs a refresh_token grant against an OAuth2 token endpoint.
type OAuth2Refresher struct {
	cfg *oauth2.Config
	cli *http.Client
}

func NewOAuth2Refresher(c types.OAuth2Config, cli *http.Client) *OAuth2Refresher {
	return &OAuth2Refresher{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: c.TokenURL},
			Scopes:       c.Scopes,
		},
		cli: cli,
	}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (types.Credential, error) {
	if r.cli != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.cli)
	}
	// A token without an access part is never valid, so the source always
	// goes to the token endpoint.
	tok, err := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			msg := re.ErrorDescription
			if msg == "" {
				msg = re.ErrorCode
			}
			return types.Credential{}, &types.APIError{
				Kind:       types.KindForStatus(re.Response.StatusCode),
				StatusCode: re.Response.StatusCode,
				Message:    msg,
				Body:       re.Body,
				Err:        err,
			}
		}
		return types.Credential{}, &types.APIError{Kind: types.KindNetwork, Message: types.ErrNetwork.Error(), Err: err}
	}
	return types.Credential{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}
