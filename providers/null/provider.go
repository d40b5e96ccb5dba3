// Package null is an in-memory provider. Every kind it registers behaves like a
// cloud object that echoes its inputs. Failures and blocking can be programmed
// per node and operation, and every call is counted.
package null

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/picklr-io/eksstack/internal/provider"
)

// Kind is registered when New is called without kinds.
const Kind = "null:Resource"

// Hook runs before each call. A non-nil error is returned from the call.
type Hook func(ctx context.Context, op, name string) error

type failure struct {
	err   error
	times int // <= 0 means always
}

type Provider struct {
	kinds []string

	mu       sync.Mutex
	objects  map[string]provider.Attributes
	serial   int
	calls    map[string]int
	failures map[string]*failure
	hook     Hook
	log      []string
	partial  map[string]error
	tokens   map[string][]string
}

// New returns a provider serving kinds, or Kind when none are given.
func New(kinds ...string) *Provider {
	if len(kinds) == 0 {
		kinds = []string{Kind}
	}
	return &Provider{
		kinds:    kinds,
		objects:  make(map[string]provider.Attributes),
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
		partial:  make(map[string]error),
		tokens:   make(map[string][]string),
	}
}

func (p *Provider) Name() string { return "null" }

func (p *Provider) Adapters() map[string]provider.Adapter {
	out := make(map[string]provider.Adapter, len(p.kinds))
	for _, k := range p.kinds {
		out[k] = p
	}
	return out
}

// FailOn makes every op call for name return err.
func (p *Provider) FailOn(name, op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[name+"/"+op] = &failure{err: err}
}

// FailTimes makes the next n op calls for name return err.
func (p *Provider) FailTimes(name, op string, n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[name+"/"+op] = &failure{err: err, times: n}
}

// FailAfterCreate makes the next create of name store its object and then
// report err as a partial failure.
func (p *Provider) FailAfterCreate(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partial[name] = err
}

// SetHook installs a hook run before every call.
func (p *Provider) SetHook(h Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = h
}

// Calls returns how many op calls were made, for any name.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// CallsFor returns how many op calls were made for name.
func (p *Provider) CallsFor(name, op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name+"/"+op]
}

// Tokens returns the request tokens of every create call for name.
func (p *Provider) Tokens(name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tokens[name]...)
}

// Log returns "op:name" entries in call order.
func (p *Provider) Log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

// Object returns the stored attributes of name.
func (p *Provider) Object(name string) (provider.Attributes, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[name]
	return maps.Clone(obj), ok
}

// Remove deletes name behind the engine's back.
func (p *Provider) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, name)
}

func (p *Provider) begin(ctx context.Context, op, name string) error {
	p.mu.Lock()
	p.calls[op]++
	p.calls[name+"/"+op]++
	p.log = append(p.log, op+":"+name)
	hook := p.hook
	var err error
	if f, ok := p.failures[name+"/"+op]; ok {
		err = f.err
		if f.times > 0 {
			f.times--
			if f.times == 0 {
				delete(p.failures, name+"/"+op)
			}
		}
	}
	p.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx, op, name); hookErr != nil {
			return hookErr
		}
	}
	return err
}

func (p *Provider) attributes(req *provider.Request, id string) provider.Attributes {
	attrs := provider.Attributes{}
	maps.Copy(attrs, req.Inputs)
	attrs["id"] = id
	if _, ok := attrs["name"]; !ok {
		attrs["name"] = req.Name
	}
	attrs["arn"] = fmt.Sprintf("arn:null:%s", id)
	attrs["endpoint"] = fmt.Sprintf("https://%s.null.local", req.Name)
	attrs["certificate_authority"] = "bnVsbA=="
	return attrs
}

func (p *Provider) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	p.mu.Lock()
	p.tokens[req.Name] = append(p.tokens[req.Name], req.Token)
	p.mu.Unlock()
	if err := p.begin(ctx, "create", req.Name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serial++
	attrs := p.attributes(req, fmt.Sprintf("null-%s-%d", req.Name, p.serial))
	p.objects[req.Name] = attrs
	if err, ok := p.partial[req.Name]; ok {
		delete(p.partial, req.Name)
		return nil, provider.Partial(maps.Clone(attrs), err)
	}
	return maps.Clone(attrs), nil
}

func (p *Provider) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	if err := p.begin(ctx, "read", req.Name); err != nil {
		return nil, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[req.Name]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(obj), true, nil
}

func (p *Provider) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	if err := p.begin(ctx, "update", req.Name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := req.Prior.ID()
	if id == "" {
		return nil, provider.Permanent(fmt.Errorf("update of %s without a prior id", req.Name))
	}
	attrs := p.attributes(req, id)
	p.objects[req.Name] = attrs
	return maps.Clone(attrs), nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.Request) error {
	if err := p.begin(ctx, "delete", req.Name); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	// Only drop the object if it is the one being deleted; a create-before-destroy
	// replacement has already stored its successor under the same name.
	if obj, ok := p.objects[req.Name]; ok && obj.ID() == req.Prior.ID() {
		delete(p.objects, req.Name)
	}
	return nil
}
