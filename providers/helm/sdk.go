package helm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/picklr-io/eksstack/internal/logging"
	"github.com/picklr-io/eksstack/providers/kubernetes"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage/driver"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// releaseDriver stores release records as Secrets, the Helm CLI default.
const releaseDriver = "secret"

// DefaultTimeout bounds the wait for release resources to become ready.
const DefaultTimeout = 5 * time.Minute

type sdkClient struct {
	tokens   kubernetes.TokenSource
	settings *cli.EnvSettings
	timeout  time.Duration
}

// NewSDKClient returns a ChartClient backed by the Helm v3 SDK. Chart
// repositories are cached where the Helm CLI caches them.
func NewSDKClient(tokens kubernetes.TokenSource) ChartClient {
	return &sdkClient{tokens: tokens, settings: cli.New(), timeout: DefaultTimeout}
}

func (c *sdkClient) configuration(ctx context.Context, rc ReleaseConfig) (*action.Configuration, error) {
	getter, err := newRESTClientGetter(ctx, rc.Cluster, rc.Namespace, c.tokens)
	if err != nil {
		return nil, err
	}
	cfg := new(action.Configuration)
	debug := func(format string, v ...any) {
		logging.Debug(fmt.Sprintf(format, v...), "release", rc.Name)
	}
	if err := cfg.Init(getter, rc.Namespace, releaseDriver, debug); err != nil {
		return nil, fmt.Errorf("failed to initialize helm for cluster %s: %w", rc.Cluster.Name, err)
	}
	return cfg, nil
}

func (c *sdkClient) loadChart(opts *action.ChartPathOptions, rc ReleaseConfig) (*chart.Chart, error) {
	opts.RepoURL = rc.Repo
	opts.Version = rc.Version
	path, err := opts.LocateChart(rc.Chart, c.settings)
	if err != nil {
		return nil, fmt.Errorf("failed to locate chart %s: %w", rc.Chart, err)
	}
	ch, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load chart %s: %w", path, err)
	}
	return ch, nil
}

func (c *sdkClient) Status(ctx context.Context, rc ReleaseConfig) (*Release, error) {
	cfg, err := c.configuration(ctx, rc)
	if err != nil {
		return nil, err
	}
	rel, err := action.NewStatus(cfg).Run(rc.Name)
	if errors.Is(err, driver.ErrReleaseNotFound) {
		return nil, ErrReleaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return releaseFrom(rel), nil
}

func (c *sdkClient) Install(ctx context.Context, rc ReleaseConfig) (*Release, error) {
	cfg, err := c.configuration(ctx, rc)
	if err != nil {
		return nil, err
	}
	install := action.NewInstall(cfg)
	install.ReleaseName = rc.Name
	install.Namespace = rc.Namespace
	install.CreateNamespace = true
	install.Wait = true
	install.Timeout = c.timeout

	ch, err := c.loadChart(&install.ChartPathOptions, rc)
	if err != nil {
		return nil, err
	}
	logging.Info("installing release", "release", rc.Name, "chart", rc.Chart, "namespace", rc.Namespace)
	rel, err := install.RunWithContext(ctx, ch, rc.Values)
	if err != nil {
		return nil, err
	}
	return releaseFrom(rel), nil
}

func (c *sdkClient) Upgrade(ctx context.Context, rc ReleaseConfig) (*Release, error) {
	cfg, err := c.configuration(ctx, rc)
	if err != nil {
		return nil, err
	}
	upgrade := action.NewUpgrade(cfg)
	upgrade.Namespace = rc.Namespace
	upgrade.Wait = true
	upgrade.Timeout = c.timeout

	ch, err := c.loadChart(&upgrade.ChartPathOptions, rc)
	if err != nil {
		return nil, err
	}
	logging.Info("upgrading release", "release", rc.Name, "chart", rc.Chart, "namespace", rc.Namespace)
	rel, err := upgrade.RunWithContext(ctx, rc.Name, ch, rc.Values)
	if err != nil {
		return nil, err
	}
	return releaseFrom(rel), nil
}

func (c *sdkClient) Uninstall(ctx context.Context, rc ReleaseConfig) error {
	cfg, err := c.configuration(ctx, rc)
	if err != nil {
		return err
	}
	uninstall := action.NewUninstall(cfg)
	uninstall.Wait = true
	uninstall.Timeout = c.timeout
	if _, err := uninstall.Run(rc.Name); err != nil {
		if errors.Is(err, driver.ErrReleaseNotFound) {
			return ErrReleaseNotFound
		}
		return err
	}
	return nil
}

func releaseFrom(rel *release.Release) *Release {
	out := &Release{
		Name:      rel.Name,
		Namespace: rel.Namespace,
		Revision:  rel.Version,
	}
	if rel.Info != nil {
		out.Status = rel.Info.Status.String()
	}
	if rel.Chart != nil && rel.Chart.Metadata != nil {
		out.Chart = rel.Chart.Metadata.Name
		out.ChartVersion = rel.Chart.Metadata.Version
		out.AppVersion = rel.Chart.Metadata.AppVersion
	}
	return out
}

// restClientGetter hands Helm an in-memory kubeconfig instead of reading
// ~/.kube/config.
type restClientGetter struct {
	loader clientcmd.ClientConfig

	mu        sync.Mutex
	discovery discovery.CachedDiscoveryInterface
}

var _ genericclioptions.RESTClientGetter = (*restClientGetter)(nil)

func newRESTClientGetter(ctx context.Context, conn kubernetes.Connection, namespace string, tokens kubernetes.TokenSource) (*restClientGetter, error) {
	loader, err := kubernetes.ClientConfig(ctx, conn, namespace, tokens)
	if err != nil {
		return nil, err
	}
	return &restClientGetter{loader: loader}, nil
}

func (g *restClientGetter) ToRESTConfig() (*rest.Config, error) {
	return g.loader.ClientConfig()
}

func (g *restClientGetter) ToDiscoveryClient() (discovery.CachedDiscoveryInterface, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.discovery != nil {
		return g.discovery, nil
	}
	cfg, err := g.ToRESTConfig()
	if err != nil {
		return nil, err
	}
	// Charts with many CRDs need more discovery requests than the default burst.
	cfg.Burst = 100
	dc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, err
	}
	g.discovery = memory.NewMemCacheClient(dc)
	return g.discovery, nil
}

func (g *restClientGetter) ToRESTMapper() (meta.RESTMapper, error) {
	dc, err := g.ToDiscoveryClient()
	if err != nil {
		return nil, err
	}
	return restmapper.NewDeferredDiscoveryRESTMapper(dc), nil
}

func (g *restClientGetter) ToRawKubeConfigLoader() clientcmd.ClientConfig {
	return g.loader
}
