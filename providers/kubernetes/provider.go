// Package kubernetes manages workload objects inside an EKS cluster with
// client-go. The cluster connection is part of every resource's inputs, so the
// same provider serves any number of clusters.
package kubernetes

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/provider"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// TokenSource issues bearer tokens for a cluster.
type TokenSource interface {
	Token(ctx context.Context, cluster string) (string, error)
}

// Connection locates a cluster API server. It is the "cluster" input of every
// Kubernetes and Helm resource.
type Connection struct {
	Name                 string `json:"name"`
	Endpoint             string `json:"endpoint"`
	CertificateAuthority string `json:"certificate_authority"` // base64 PEM
}

// ClientFactory returns a clientset for the cluster described by conn.
type ClientFactory func(ctx context.Context, conn Connection) (k8s.Interface, error)

type Provider struct {
	clients ClientFactory
}

// New returns a provider that authenticates with tokens from tokens.
func New(tokens TokenSource) *Provider {
	return &Provider{clients: func(ctx context.Context, conn Connection) (k8s.Interface, error) {
		cc, err := ClientConfig(ctx, conn, metav1.NamespaceDefault, tokens)
		if err != nil {
			return nil, err
		}
		cfg, err := cc.ClientConfig()
		if err != nil {
			return nil, provider.Permanent(fmt.Errorf("invalid client config for cluster %s: %w", conn.Name, err))
		}
		return k8s.NewForConfig(cfg)
	}}
}

// NewWithClientFactory returns a provider that gets its clientsets from f.
func NewWithClientFactory(f ClientFactory) *Provider {
	return &Provider{clients: f}
}

func (p *Provider) Name() string { return "kubernetes" }

func (p *Provider) Adapters() map[string]provider.Adapter {
	return map[string]provider.Adapter{
		ir.KindDeployment: &deploymentAdapter{p: p},
		ir.KindService:    &serviceAdapter{p: p},
		ir.KindHPA:        &hpaAdapter{p: p},
	}
}

func (p *Provider) client(ctx context.Context, conn Connection) (k8s.Interface, error) {
	if conn.Endpoint == "" {
		return nil, provider.Permanent(fmt.Errorf("cluster %q has no endpoint", conn.Name))
	}
	return p.clients(ctx, conn)
}

// ClientConfig builds an in-memory kubeconfig for conn whose context defaults
// to namespace.
func ClientConfig(ctx context.Context, conn Connection, namespace string, tokens TokenSource) (clientcmd.ClientConfig, error) {
	ca, err := base64.StdEncoding.DecodeString(conn.CertificateAuthority)
	if err != nil {
		return nil, provider.Permanent(fmt.Errorf("invalid certificate authority for cluster %s: %w", conn.Name, err))
	}
	token, err := tokens.Token(ctx, conn.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get token for cluster %s: %w", conn.Name, err)
	}

	cfg := clientcmdapi.NewConfig()
	cfg.Clusters[conn.Name] = &clientcmdapi.Cluster{
		Server:                   conn.Endpoint,
		CertificateAuthorityData: ca,
	}
	cfg.AuthInfos[conn.Name] = &clientcmdapi.AuthInfo{Token: token}
	cfg.Contexts[conn.Name] = &clientcmdapi.Context{
		Cluster:   conn.Name,
		AuthInfo:  conn.Name,
		Namespace: namespace,
	}
	cfg.CurrentContext = conn.Name
	return clientcmd.NewDefaultClientConfig(*cfg, &clientcmd.ConfigOverrides{}), nil
}

// ObjectState is the identity every adapter reports.
type ObjectState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	UID       string `json:"uid"`
}

func objectState(obj metav1.Object) ObjectState {
	return ObjectState{
		ID:        obj.GetNamespace() + "/" + obj.GetName(),
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
		UID:       string(obj.GetUID()),
	}
}

// objectRef is the part of a config that locates an object.
type objectRef struct {
	Cluster   Connection `json:"cluster"`
	Namespace string     `json:"namespace"`
	Name      string     `json:"name"`
}

// locate returns where the object of req lives: inputs give the cluster,
// prior attributes the name when known.
func locate(req *provider.Request) (objectRef, error) {
	var ref objectRef
	if err := req.Decode(&ref); err != nil {
		return ref, err
	}
	if name := req.Prior.String("name"); name != "" {
		ref.Name = name
	}
	if ns := req.Prior.String("namespace"); ns != "" {
		ref.Namespace = ns
	}
	if ref.Namespace == "" {
		ref.Namespace = metav1.NamespaceDefault
	}
	return ref, nil
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return metav1.NamespaceDefault
	}
	return ns
}
