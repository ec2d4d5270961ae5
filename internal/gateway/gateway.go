package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"tether/internal/auth"
	"tether/internal/ports"
	"tether/internal/types"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// Operation is one logical request. Attempt is 0 for the original send and 1
// for the single replay that follows a successful refresh.
type Operation struct {
	Method       string
	Path         string
	Query        url.Values
	Header       http.Header
	Body         any
	RequiresAuth bool
	Attempt      int
}

// Response is a received HTTP response with its body already read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &types.APIError{
			Kind:       types.KindParse,
			StatusCode: r.StatusCode,
			Message:    types.ErrMalformedPayload.Error(),
			Body:       r.Body,
			Err:        err,
		}
	}
	return nil
}

// Gateway sends operations to the backend with the current access
// credential and recovers from an expired credential exactly once per
// operation. Callers never refresh or retry themselves.
type Gateway struct {
	baseURL string
	cli     *http.Client
	store   ports.CredentialStore
	coord   *auth.Coordinator
	log     *log.Entry
}

// New builds a gateway for baseURL. A nil client gets one with the
// configured timeout.
func New(cfg types.Config, cli *http.Client, store ports.CredentialStore, coord *auth.Coordinator) *Gateway {
	if cli == nil {
		cli = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cli:     cli,
		store:   store,
		coord:   coord,
		log:     log.WithField("component", "gateway"),
	}
}

// Call executes op. A non-2xx response is returned together with an
// *types.APIError describing it; transport failures return a nil response.
func (g *Gateway) Call(ctx context.Context, op Operation) (*Response, error) {
	if op.Method == "" {
		op.Method = http.MethodGet
	}
	payload, err := encodeBody(op.Body)
	if err != nil {
		return nil, &types.APIError{Kind: types.KindParse, Message: "encoding request body", Err: err}
	}

	for {
		resp, presented, err := g.send(ctx, op, payload)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && op.RequiresAuth && op.Attempt == 0 {
			l := g.log.WithFields(log.Fields{"method": op.Method, "path": op.Path})
			l.Debug("credential rejected, refreshing")
			if _, err := g.coord.RefreshStale(ctx, presented); err != nil {
				if ctx.Err() != nil {
					return nil, &types.APIError{Kind: types.KindNetwork, Message: "cancelled while waiting for refresh", Err: ctx.Err()}
				}
				return nil, &types.APIError{Kind: types.KindSessionInvalid, StatusCode: resp.StatusCode, Message: types.ErrSessionInvalid.Error(), Err: err}
			}
			op.Attempt++
			l.Debug("replaying with refreshed credential")
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return resp, nil
		}
		return resp, classify(resp)
	}
}

// send performs one HTTP exchange and returns the access token it presented.
func (g *Gateway) send(ctx context.Context, op Operation, payload []byte) (*Response, string, error) {
	var token string
	if op.RequiresAuth {
		cred, err := g.store.Get(ctx)
		if err != nil {
			return nil, "", &types.APIError{Kind: types.KindUnknown, Message: "reading credential", Err: err}
		}
		if cred.IsZero() {
			return nil, "", &types.APIError{Kind: types.KindSessionInvalid, Message: types.ErrSessionInvalid.Error(), Err: types.ErrNoCredential}
		}
		token = cred.AccessToken
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, g.resolve(op), body)
	if err != nil {
		return nil, "", &types.APIError{Kind: types.KindUnknown, Message: "building request", Err: err}
	}
	for k, vs := range op.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil && req.Header.Get(types.ContentTypeHName) == "" {
		req.Header.Set(types.ContentTypeHName, types.ContentTypeJSON)
	}
	if token != "" {
		req.Header.Set(types.AuthHeaderName, types.BearerPrefix+token)
	}

	res, err := g.cli.Do(req)
	if err != nil {
		return nil, token, &types.APIError{Kind: types.KindNetwork, Message: types.ErrNetwork.Error(), Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, token, &types.APIError{Kind: types.KindNetwork, StatusCode: res.StatusCode, Message: types.ErrNetwork.Error(), Err: err}
	}

	g.log.WithFields(log.Fields{
		"method":  op.Method,
		"path":    op.Path,
		"status":  res.StatusCode,
		"attempt": op.Attempt,
	}).Debug("request completed")

	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: raw}, token, nil
}

func (g *Gateway) resolve(op Operation) string {
	u := op.Path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = g.baseURL + "/" + strings.TrimLeft(op.Path, "/")
	}
	if len(op.Query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + op.Query.Encode()
	}
	return u
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}
