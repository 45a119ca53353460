/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Sentinel error kinds. Callers branch with errors.Is instead of inspecting
// HTTP status codes from the API server.
var (
	// ErrNotFound reports that the named object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports that the named object already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransient reports an upstream failure worth retrying.
	ErrTransient = errors.New("transient upstream error")
)

// wrap normalizes an API server error into one of the sentinel kinds,
// keeping the operation and object name in the message. Unclassified errors
// pass through wrapped as fatal.
func wrap(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%s %s: %w", op, name, ErrNotFound)
	case apierrors.IsAlreadyExists(err):
		return fmt.Errorf("%s %s: %w", op, name, ErrAlreadyExists)
	case isTransient(err):
		return fmt.Errorf("%s %s: %v: %w", op, name, err, ErrTransient)
	default:
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
}

// isTransient reports whether the API server error is retryable.
func isTransient(err error) bool {
	return apierrors.IsTimeout(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsConflict(err)
}
