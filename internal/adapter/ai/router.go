// Package ai routes inference requests to the provider gateways.
package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// Route sends models whose id starts with Prefix to Gateway.
type Route struct {
	Prefix  string
	Gateway domain.Gateway
}

// Router implements domain.Gateway by model-id prefix, falling back to a
// default gateway (Ollama).
type Router struct {
	fallback domain.Gateway
	routes   []Route
}

// NewRouter builds a router; a nil gateway in routes is skipped.
func NewRouter(fallback domain.Gateway, routes ...Route) *Router {
	r := &Router{fallback: fallback}
	for _, rt := range routes {
		if rt.Gateway == nil || rt.Prefix == "" {
			continue
		}
		rt.Prefix = strings.ToLower(rt.Prefix)
		r.routes = append(r.routes, rt)
	}
	// longest prefix first
	sort.SliceStable(r.routes, func(i, j int) bool { return len(r.routes[i].Prefix) > len(r.routes[j].Prefix) })
	return r
}

// Resolve returns the gateway serving model.
func (r *Router) Resolve(model string) domain.Gateway {
	id := strings.ToLower(strings.TrimSpace(model))
	for _, rt := range r.routes {
		if strings.HasPrefix(id, rt.Prefix) {
			return rt.Gateway
		}
	}
	return r.fallback
}

// Complete forwards the request to the gateway that serves req.Model.
func (r *Router) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("%w: model is required", domain.ErrInvalidArgument)
	}
	gw := r.Resolve(req.Model)
	if gw == nil {
		return "", fmt.Errorf("%w: no gateway for model %q", domain.ErrUpstreamUnavailable, req.Model)
	}
	return gw.Complete(ctx, req)
}

// ListModels returns the models reported by the fallback gateway when it
// can list them.
func (r *Router) ListModels(ctx context.Context) ([]string, error) {
	lister, ok := r.fallback.(domain.ModelLister)
	if !ok {
		return nil, nil
	}
	return lister.ListModels(ctx)
}
