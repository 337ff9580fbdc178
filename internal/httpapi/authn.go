package httpapi

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"gatekeep.org/internal/auth"
)

const authHeader = "Authorization"

// withPrincipal resolves the bearer token into a principal. Failures leave
// the anonymous principal in place; each operation enforces its own
// requirement. Catalogue and introspection requests skip resolution.
func (a *API) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" || a.peekIntrospection(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := auth.ContextWithToken(r.Context(), auth.ExtractToken(header))
		principal, err := a.authorizer.Authenticate(ctx, header)
		if err != nil {
			if de := auth.AsError(err); de.Kind == auth.KindInternal {
				a.logger.ErrorContext(ctx, "authentication failed", slog.Any("error", de.Cause))
			}
		} else {
			ctx = auth.ContextWithPrincipal(ctx, principal)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// peekIntrospection reads the body, restores it for the next handler and
// reports whether it asks for the operation catalogue.
func (a *API) peekIntrospection(r *http.Request) bool {
	if r.Body == nil {
		return false
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{err}))
	if err != nil {
		return false
	}
	return isIntrospectionBody(body)
}

// errReader replays a read failure after the buffered bytes.
type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) {
	if e.err == nil {
		return 0, io.EOF
	}
	return 0, e.err
}
