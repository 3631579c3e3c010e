package middleware

import (
	"context"
	"net/http"
	"strconv"
)

// UsrIDHeader is the header an upstream JWT-validating proxy sets with the
// caller's verified numeric usr_id. Credential verification itself is an
// input boundary mediaflow sits behind, not something this middleware does.
const UsrIDHeader = "X-Usr-Id"

type usrIDKey struct{}

// ABAC extracts the trusted usr_id an upstream proxy attaches to every
// request and adds it to the context. A request with no usr_id header, or
// one that does not parse as a positive integer, is rejected with 401
// before the handler behind it runs. Mount this on chi routes registered
// directly on the router rather than through huma.Register — raw multipart
// streaming and HLS segment fetches bypass huma entirely, so they are the
// only handlers that need this form; huma-registered operations instead
// declare a required X-Usr-Id header field on their own input struct, since
// huma's own request/response pipeline does not see chi middleware.
func ABAC(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		usrID, ok := parseUsrID(r.Header.Get(UsrIDHeader))
		if !ok {
			http.Error(w, "missing or invalid "+UsrIDHeader, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), usrIDKey{}, usrID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseUsrID(raw string) (uint64, bool) {
	usrID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || usrID == 0 {
		return 0, false
	}
	return usrID, true
}

// GetUsrID returns the trusted usr_id attached to ctx by ABAC, and false if
// none was attached (the handler is not mounted behind ABAC).
func GetUsrID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(usrIDKey{}).(uint64)
	return id, ok
}
