// Package auth resolves the caller of a request. It only verifies credentials minted elsewhere.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
)

// ErrUnauthenticated means the request carried no usable credential.
var ErrUnauthenticated = errors.New("unauthenticated")

type Resolver interface {
	// Resolve returns the caller or ErrUnauthenticated (possibly wrapped).
	Resolve(r *http.Request) (*ctxutil.Identity, error)
}

// HeaderResolver trusts identity headers set by an upstream proxy.
type HeaderResolver struct {
	UserHeader  string
	EmailHeader string
}

func NewHeaderResolver(userHeader, emailHeader string) *HeaderResolver {
	if userHeader == "" {
		userHeader = "X-User-Id"
	}
	if emailHeader == "" {
		emailHeader = "X-User-Email"
	}
	return &HeaderResolver{UserHeader: userHeader, EmailHeader: emailHeader}
}

func (h *HeaderResolver) Resolve(r *http.Request) (*ctxutil.Identity, error) {
	uid := strings.TrimSpace(r.Header.Get(h.UserHeader))
	if uid == "" {
		return nil, ErrUnauthenticated
	}
	return &ctxutil.Identity{UserID: uid, Email: strings.TrimSpace(r.Header.Get(h.EmailHeader))}, nil
}
