package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"tether/internal/types"

	"github.com/goccy/go-json"
)

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// HTTPRefresher posts the refresh credential to a plain JSON endpoint:
// {"refresh": "..."} in, {"access": "...", "refresh"?: "..."} out.
type HTTPRefresher struct {
	url string
	cli *http.Client
}

// NewHTTPRefresher targets baseURL+path. A nil client uses http.DefaultClient.
func NewHTTPRefresher(baseURL, path string, cli *http.Client) *HTTPRefresher {
	if cli == nil {
		cli = http.DefaultClient
	}
	return &HTTPRefresher{
		url: strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		cli: cli,
	}
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (types.Credential, error) {
	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return types.Credential{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return types.Credential{}, err
	}
	req.Header.Set(types.ContentTypeHName, types.ContentTypeJSON)

	resp, err := r.cli.Do(req)
	if err != nil {
		return types.Credential{}, &types.APIError{Kind: types.KindNetwork, Message: types.ErrNetwork.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Credential{}, &types.APIError{Kind: types.KindNetwork, StatusCode: resp.StatusCode, Message: "reading refresh response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Credential{}, &types.APIError{
			Kind:       types.KindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       raw,
		}
	}

	var out refreshResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Access == "" {
		return types.Credential{}, &types.APIError{
			Kind:       types.KindParse,
			StatusCode: resp.StatusCode,
			Message:    "refresh response has no access credential",
			Body:       raw,
			Err:        err,
		}
	}
	return types.Credential{AccessToken: out.Access, RefreshToken: out.Refresh}, nil
}
