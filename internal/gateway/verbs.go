package gateway

import (
	"context"
	"net/http"
)

// Get, Post, Put, Patch and Delete are authenticated JSON shortcuts around
// Call. A 2xx body is decoded into out when out is non-nil.

func (g *Gateway) Get(ctx context.Context, path string, out any) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.do(ctx, http.MethodPost, path, body, out)
}

func (g *Gateway) Put(ctx context.Context, path string, body, out any) error {
	return g.do(ctx, http.MethodPut, path, body, out)
}

func (g *Gateway) Patch(ctx context.Context, path string, body, out any) error {
	return g.do(ctx, http.MethodPatch, path, body, out)
}

func (g *Gateway) Delete(ctx context.Context, path string, out any) error {
	return g.do(ctx, http.MethodDelete, path, nil, out)
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := g.Call(ctx, Operation{
		Method:       method,
		Path:         path,
		Body:         body,
		RequiresAuth: true,
	})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
