package middleware

import "net/http"

type ModeratorChecker interface {
	IsModerator(userID string) bool
}

// RequireModerator gates arbitration and rate-admin routes. It assumes Auth
// already ran and put the user id in the context.
func RequireModerator(users ModeratorChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !users.IsModerator(userID) {
				http.Error(w, "moderator privileges required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
