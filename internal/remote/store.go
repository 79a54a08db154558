// Package remote holds the backends that store the compact reading-list
// document. A backend only moves text; encoding lives in package wire.
package remote

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// Store is the remote document store. No backend retries on its own; callers
// decide whether a failure is worth another attempt.
type Store interface {
	// Fetch returns the full document text for id.
	Fetch(ctx context.Context, id, credential string) (string, error)
	// Create stores a new document and returns its id.
	Create(ctx context.Context, credential, text string) (string, error)
	// Update replaces the text of an existing document.
	Update(ctx context.Context, id, credential, text string) error
}

// credentialDigest is what the self-hosted backends keep next to a document
// instead of the credential itself.
func credentialDigest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func digestMatches(stored, credential string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(credentialDigest(credential))) == 1
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
