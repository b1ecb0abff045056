package api

import (
	"context"
	"net/http"
	"strings"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/shared/jwt"
	"service-dispatch/internal/shared/util"
)

type contextKey string

const claimsKey contextKey = "claims"

// Authenticate requires a valid "Authorization: Bearer <jwt>" header.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			util.WriteJSONError(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			util.WriteJSONError(w, "invalid Authorization format", http.StatusUnauthorized)
			return
		}

		claims, err := h.tokens.Parse(tokenString)
		if err != nil {
			h.log.Warn("Handler.Authenticate", "rejected token: "+err.Error())
			util.WriteJSONError(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ClaimsFrom(ctx context.Context) *jwt.Claims {
	claims, _ := ctx.Value(claimsKey).(*jwt.Claims)
	return claims
}

// RequireRole lets through only callers holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				util.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			util.WriteJSONError(w, "forbidden: role "+claims.Role+" may not call this endpoint", http.StatusForbidden)
		})
	}
}

func canSeeBooking(c *jwt.Claims, b *domain.Booking) bool {
	switch c.Role {
	case jwt.RoleAdmin:
		return true
	case jwt.RoleCustomer:
		return b.UserID == c.Subject
	case jwt.RoleProvider:
		return b.HasProvider(c.Subject)
	}
	return false
}

// Customers may only cancel or dispute their own bookings; the rest of the
// lifecycle is driven by the provider or an operator.
func canSetStatus(c *jwt.Claims, b *domain.Booking, to domain.Status) bool {
	if !canSeeBooking(c, b) {
		return false
	}
	if c.Role == jwt.RoleCustomer {
		return to == domain.StatusCanceled || to == domain.StatusDisputed
	}
	return true
}

func actsForProvider(c *jwt.Claims, providerID string) bool {
	return c.Role == jwt.RoleAdmin || (c.Role == jwt.RoleProvider && c.Subject == providerID)
}

func actsForRecipient(c *jwt.Claims, kind domain.RecipientKind, id string) bool {
	switch c.Role {
	case jwt.RoleAdmin:
		return true
	case jwt.RoleCustomer:
		return kind == domain.RecipientUser && id == c.Subject
	case jwt.RoleProvider:
		return kind == domain.RecipientProvider && id == c.Subject
	}
	return false
}

func recipientKindFor(role string) domain.RecipientKind {
	if role == jwt.RoleProvider {
		return domain.RecipientProvider
	}
	return domain.RecipientUser
}
