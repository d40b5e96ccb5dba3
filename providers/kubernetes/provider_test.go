package kubernetes

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
)

type tokenFunc func(ctx context.Context, cluster string) (string, error)

func (f tokenFunc) Token(ctx context.Context, cluster string) (string, error) { return f(ctx, cluster) }

func staticToken(token string) TokenSource {
	return tokenFunc(func(context.Context, string) (string, error) { return token, nil })
}

var testCA = base64.StdEncoding.EncodeToString([]byte("-----BEGIN CERTIFICATE-----"))

func connection() map[string]any {
	return map[string]any{
		"name":                  "eks-cluster",
		"endpoint":              "https://ABC.gr7.us-east-1.eks.amazonaws.com",
		"certificate_authority": testCA,
	}
}

func fakeProvider() (*Provider, *fake.Clientset) {
	cs := fake.NewSimpleClientset()
	return NewWithClientFactory(func(context.Context, Connection) (k8s.Interface, error) { return cs, nil }), cs
}

func adapter(t *testing.T, p *Provider, kind string) provider.Adapter {
	t.Helper()
	a, ok := p.Adapters()[kind]
	require.True(t, ok, kind)
	return a
}

func TestAdapters_CoverKubernetesKinds(t *testing.T) {
	p, _ := fakeProvider()
	assert.Equal(t, "kubernetes", p.Name())
	assert.Len(t, p.Adapters(), 3)
	for _, kind := range []string{ir.KindDeployment, ir.KindService, ir.KindHPA} {
		assert.Contains(t, p.Adapters(), kind)
	}
}

func TestClientConfig(t *testing.T) {
	var asked string
	tokens := tokenFunc(func(_ context.Context, cluster string) (string, error) {
		asked = cluster
		return "k8s-aws-v1.token", nil
	})
	cc, err := ClientConfig(context.Background(), Connection{
		Name:                 "eks-cluster",
		Endpoint:             "https://ABC.gr7.us-east-1.eks.amazonaws.com",
		CertificateAuthority: testCA,
	}, "kube-system", tokens)
	require.NoError(t, err)
	assert.Equal(t, "eks-cluster", asked)

	cfg, err := cc.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://ABC.gr7.us-east-1.eks.amazonaws.com", cfg.Host)
	assert.Equal(t, "k8s-aws-v1.token", cfg.BearerToken)
	assert.Equal(t, []byte("-----BEGIN CERTIFICATE-----"), cfg.TLSClientConfig.CAData)

	ns, _, err := cc.Namespace()
	require.NoError(t, err)
	assert.Equal(t, "kube-system", ns)
}

func TestClientConfig_Errors(t *testing.T) {
	_, err := ClientConfig(context.Background(), Connection{Name: "c", Endpoint: "https://x", CertificateAuthority: "%%%"}, "", staticToken("t"))
	assert.True(t, provider.IsPermanent(err))

	failing := tokenFunc(func(context.Context, string) (string, error) { return "", errors.New("no credentials") })
	_, err = ClientConfig(context.Background(), Connection{Name: "c", Endpoint: "https://x", CertificateAuthority: testCA}, "", failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestClient_RequiresEndpoint(t *testing.T) {
	p := New(staticToken("t"))
	_, err := p.client(context.Background(), Connection{Name: "eks-cluster"})
	assert.True(t, provider.IsPermanent(err))
}

func TestClassify(t *testing.T) {
	gr := schema.GroupResource{Group: "apps", Resource: "deployments"}
	tests := []struct {
		name      string
		err       error
		transient bool
		permanent bool
	}{
		{"conflict", apierrors.NewConflict(gr, "demo-app", errors.New("modified")), true, false},
		{"too many requests", apierrors.NewTooManyRequests("slow down", 1), true, false},
		{"server timeout", apierrors.NewServerTimeout(gr, "create", 1), true, false},
		{"internal", apierrors.NewInternalError(errors.New("etcd")), true, false},
		{"unavailable", apierrors.NewServiceUnavailable("starting"), true, false},
		{"invalid", apierrors.NewBadRequest("bad"), false, true},
		{"forbidden", apierrors.NewForbidden(gr, "demo-app", errors.New("rbac")), false, true},
		{"unauthorized", apierrors.NewUnauthorized("token expired"), false, true},
		{"plain", errors.New("dial tcp: connection refused"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("op", tt.err)
			assert.Equal(t, tt.transient, provider.IsTransient(err))
			assert.Equal(t, tt.permanent, provider.IsPermanent(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, Classify("op", nil))
}

func TestLocate(t *testing.T) {
	ref, err := locate(&provider.Request{
		Inputs: map[string]any{"cluster": connection(), "name": "desired"},
		Prior:  provider.Attributes{"name": "observed", "namespace": "demo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "observed", ref.Name)
	assert.Equal(t, "demo", ref.Namespace)
	assert.Equal(t, "eks-cluster", ref.Cluster.Name)

	ref, err = locate(&provider.Request{Inputs: map[string]any{"name": "desired"}})
	require.NoError(t, err)
	assert.Equal(t, "default", ref.Namespace)
}
