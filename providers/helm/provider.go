// Package helm installs chart releases into an EKS cluster.
package helm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/provider"
	"github.com/picklr-io/eksstack/providers/kubernetes"
)

// ErrReleaseNotFound is returned by a ChartClient for a release that was never
// installed or has been uninstalled.
var ErrReleaseNotFound = errors.New("release not found")

type ReleaseConfig struct {
	Cluster   kubernetes.Connection `json:"cluster"`
	Name      string                `json:"name"`
	Namespace string                `json:"namespace"`
	Chart     string                `json:"chart"`
	Repo      string                `json:"repo"`
	Version   string                `json:"version"` // empty means latest
	Values    map[string]any        `json:"values"`
}

// Release is what a ChartClient reports about a deployed release.
type Release struct {
	Name         string
	Namespace    string
	Chart        string
	ChartVersion string
	AppVersion   string
	Revision     int
	Status       string
}

// ChartClient runs release operations against a cluster.
type ChartClient interface {
	Status(ctx context.Context, cfg ReleaseConfig) (*Release, error)
	Install(ctx context.Context, cfg ReleaseConfig) (*Release, error)
	Upgrade(ctx context.Context, cfg ReleaseConfig) (*Release, error)
	Uninstall(ctx context.Context, cfg ReleaseConfig) error
}

type Provider struct {
	charts ChartClient
}

// New returns a provider running the Helm SDK with tokens from tokens.
func New(tokens kubernetes.TokenSource) *Provider {
	return &Provider{charts: NewSDKClient(tokens)}
}

// NewWithClient returns a provider that runs releases through c.
func NewWithClient(c ChartClient) *Provider {
	return &Provider{charts: c}
}

func (p *Provider) Name() string { return "helm" }

func (p *Provider) Adapters() map[string]provider.Adapter {
	return map[string]provider.Adapter{
		ir.KindHelmRelease: &releaseAdapter{p: p},
	}
}

type ReleaseState struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Namespace  string `json:"namespace"`
	Chart      string `json:"chart"`
	Version    string `json:"version"`
	AppVersion string `json:"app_version"`
	Revision   int    `json:"revision"`
	Status     string `json:"status"`
}

func releaseAttrs(r *Release) (provider.Attributes, error) {
	return provider.Encode(ReleaseState{
		ID:         r.Namespace + "/" + r.Name,
		Name:       r.Name,
		Namespace:  r.Namespace,
		Chart:      r.Chart,
		Version:    r.ChartVersion,
		AppVersion: r.AppVersion,
		Revision:   r.Revision,
		Status:     r.Status,
	})
}

// classify marks errors from a release operation. Kubernetes API statuses
// keep their classification; a release locked by another operation is retried.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := kubernetes.Classify(op, err)
	if provider.IsTransient(wrapped) || provider.IsPermanent(wrapped) {
		return wrapped
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "another operation") && strings.Contains(msg, "in progress"):
		return provider.Transient(wrapped)
	case strings.Contains(msg, "chart") && strings.Contains(msg, "not found"):
		return provider.Permanent(wrapped)
	}
	return wrapped
}

type releaseAdapter struct{ p *Provider }

func decodeRelease(req *provider.Request) (ReleaseConfig, error) {
	var cfg ReleaseConfig
	if err := req.Decode(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.Name == "" {
		cfg.Name = req.Name
	}
	if req.Prior != nil {
		if name := req.Prior.String("name"); name != "" {
			cfg.Name = name
		}
		if ns := req.Prior.String("namespace"); ns != "" {
			cfg.Namespace = ns
		}
	}
	if cfg.Name == "" {
		return cfg, provider.Permanent(fmt.Errorf("release name is required"))
	}
	return cfg, nil
}

// Create installs the release, or upgrades one left behind by an earlier run.
func (a *releaseAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	cfg, err := decodeRelease(req)
	if err != nil {
		return nil, err
	}
	if cfg.Chart == "" {
		return nil, provider.Permanent(fmt.Errorf("release %s has no chart", cfg.Name))
	}

	existing, err := a.p.charts.Status(ctx, cfg)
	switch {
	case errors.Is(err, ErrReleaseNotFound):
		rel, err := a.p.charts.Install(ctx, cfg)
		if err != nil {
			return nil, classify("failed to install release "+cfg.Name, err)
		}
		return releaseAttrs(rel)
	case err != nil:
		return nil, classify("failed to get release "+cfg.Name, err)
	}

	rel, err := a.p.charts.Upgrade(ctx, cfg)
	if err != nil {
		return nil, classify(fmt.Sprintf("failed to upgrade existing release %s (%s)", cfg.Name, existing.Status), err)
	}
	return releaseAttrs(rel)
}

func (a *releaseAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	cfg, err := decodeRelease(req)
	if err != nil {
		return nil, false, err
	}
	rel, err := a.p.charts.Status(ctx, cfg)
	if errors.Is(err, ErrReleaseNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to get release "+cfg.Name, err)
	}
	if rel.Status == "uninstalled" || rel.Status == "uninstalling" {
		return nil, false, nil
	}
	attrs, err := releaseAttrs(rel)
	return attrs, err == nil, err
}

func (a *releaseAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	cfg, err := decodeRelease(req)
	if err != nil {
		return nil, err
	}
	rel, err := a.p.charts.Upgrade(ctx, cfg)
	if err != nil {
		return nil, classify("failed to upgrade release "+cfg.Name, err)
	}
	return releaseAttrs(rel)
}

func (a *releaseAdapter) Delete(ctx context.Context, req *provider.Request) error {
	cfg, err := decodeRelease(req)
	if err != nil {
		return err
	}
	err = a.p.charts.Uninstall(ctx, cfg)
	if err != nil && !errors.Is(err, ErrReleaseNotFound) {
		return classify("failed to uninstall release "+cfg.Name, err)
	}
	return nil
}
