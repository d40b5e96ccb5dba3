package kubernetes

import (
	"fmt"

	"github.com/picklr-io/eksstack/internal/provider"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Classify wraps an API server error as transient or permanent. Errors that
// are not API statuses, such as dial failures, are returned only wrapped.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", op, err)
	switch {
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsInternalError(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsUnexpectedServerError(err),
		apierrors.IsConflict(err):
		return provider.Transient(wrapped)
	case apierrors.IsInvalid(err),
		apierrors.IsBadRequest(err),
		apierrors.IsForbidden(err),
		apierrors.IsUnauthorized(err),
		apierrors.IsMethodNotSupported(err),
		apierrors.IsNotAcceptable(err),
		apierrors.IsRequestEntityTooLargeError(err):
		return provider.Permanent(wrapped)
	}
	return wrapped
}
