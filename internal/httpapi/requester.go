package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/book-expert/audiobook-tts/internal/core"
)

// Identity headers set by the gateway in front of the service.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserAdmin = "X-User-Admin"
)

type requesterKey struct{}

func requireRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+HeaderUserID+" header")

			return
		}

		isAdmin, _ := strconv.ParseBool(r.Header.Get(HeaderUserAdmin))
		requester := core.Requester{UserID: userID, IsAdmin: isAdmin}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requesterKey{}, requester)))
	})
}

func requesterFrom(r *http.Request) core.Requester {
	requester, _ := r.Context().Value(requesterKey{}).(core.Requester)

	return requester
}
