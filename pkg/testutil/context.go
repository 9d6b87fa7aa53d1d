package testutil

import (
	"net/http"

	"kyc-intake/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context, as the auth middleware
// would for an authenticated request.
func WithUserID(req *http.Request, userID string) *http.Request {
	if userID == "" {
		return req
	}
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}
