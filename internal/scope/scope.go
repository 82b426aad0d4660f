// Package scope resolves the per-request tenant identity and library
// root, mirroring user_scope.py's request-identity middleware.
package scope

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/braindrive/library-service/internal/errs"
)

const (
	UserIDHeader      = "X-BrainDrive-User-Id"
	RequestIDHeader   = "X-BrainDrive-Request-Id"
	ServiceTokenHeader = "X-BrainDrive-Service-Token"
)

// AuthExemptPaths lists request paths that skip identity enforcement.
var AuthExemptPaths = map[string]bool{
	"/health": true,
}

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,128}$`)

type contextKey string

const (
	tenantIDKey    contextKey = "tenant_id"
	libraryRootKey contextKey = "library_root"
	requestIDKey   contextKey = "request_id"
)

// NormalizeUserID strips whitespace and hyphens, then validates the result
// against the tenant id charset/length rule.
func NormalizeUserID(raw string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(raw), "-", "")
	if !userIDPattern.MatchString(normalized) {
		return "", errs.New("INVALID_USER_ID", "User id must be 3-128 alphanumeric/underscore characters.", map[string]any{"userId": raw})
	}
	return normalized, nil
}

// ResolveLibraryRoot returns the tenant's library directory under the
// service's configured base path: <base>/users/<normalized-tenant-id>/.
func ResolveLibraryRoot(basePath, tenantID string) string {
	return filepath.Join(basePath, "users", tenantID)
}

// WithRequest returns a context carrying the resolved tenant id, library
// root, and request id for downstream handlers.
func WithRequest(ctx context.Context, tenantID, libraryRoot, requestID string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	ctx = context.WithValue(ctx, libraryRootKey, libraryRoot)
	return context.WithValue(ctx, requestIDKey, requestID)
}

// TenantID extracts the tenant id set by WithRequest.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// LibraryRoot extracts the resolved library root set by WithRequest.
func LibraryRoot(ctx context.Context) string {
	v, _ := ctx.Value(libraryRootKey).(string)
	return v
}

// RequestID extracts the request id set by WithRequest, if any.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
