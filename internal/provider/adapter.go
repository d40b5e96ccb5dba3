package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Attributes are the provider-reported attributes of a resource. "id" holds the
// physical identity once the resource exists.
type Attributes map[string]any

// ID returns the physical identity, or "".
func (a Attributes) ID() string {
	if a == nil {
		return ""
	}
	if id, ok := a["id"]; ok && id != nil {
		return fmt.Sprintf("%v", id)
	}
	return ""
}

// String returns attribute key as a string, or "".
func (a Attributes) String(key string) string {
	if a == nil {
		return ""
	}
	if v, ok := a[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// Request carries one provider call.
type Request struct {
	Kind        string
	Name        string
	Inputs      map[string]any // resolved desired inputs; the last applied ones for Delete
	Prior       Attributes     // last observed attributes; nil for Create
	PriorInputs map[string]any

	// Token is unique per intended Create and stable across its retries.
	// Adapters pass it as the API's client token where one exists.
	Token string
}

// Decode unmarshals the request inputs into a typed config struct.
func (r *Request) Decode(v any) error {
	return Decode(r.Inputs, v)
}

// DecodePrior unmarshals the prior attributes into a typed state struct.
func (r *Request) DecodePrior(v any) error {
	if r.Prior == nil {
		return nil
	}
	return Decode(map[string]any(r.Prior), v)
}

// Adapter performs the create, read, update and delete calls for one resource kind.
// Read must be free of side effects. Create treats "already exists" as success and
// Delete treats "already deleted" as success. A Create that made its object but
// failed afterwards returns a PartialError carrying the object's attributes.
type Adapter interface {
	Create(ctx context.Context, req *Request) (Attributes, error)
	Read(ctx context.Context, req *Request) (Attributes, bool, error)
	Update(ctx context.Context, req *Request) (Attributes, error)
	Delete(ctx context.Context, req *Request) error
}

// Decode converts a generic property map into a typed struct via JSON.
func Decode(in map[string]any, v any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Permanent(fmt.Errorf("invalid configuration: %w", err))
	}
	return nil
}

// Encode converts a typed state struct into Attributes via JSON.
func Encode(v any) (Attributes, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var attrs Attributes
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return attrs, nil
}
