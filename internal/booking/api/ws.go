package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"service-dispatch/internal/shared/jwt"
	"service-dispatch/internal/shared/util"
)

// RoomWS subscribes a websocket to one of booking:<id>, user:<id> or
// provider:<id>. Authentication happens on the first frame.
func (h *Handler) RoomWS(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	kind, id, ok := strings.Cut(room, ":")
	if !ok || id == "" || (kind != "booking" && kind != "user" && kind != "provider") {
		util.WriteJSONError(w, "unknown room "+room, http.StatusBadRequest)
		return
	}
	h.ws.Serve(w, r, room)
}

func (h *Handler) authorizeRoom(ctx context.Context, claims *jwt.Claims, room string) bool {
	if claims.Role == jwt.RoleAdmin {
		return true
	}
	kind, id, _ := strings.Cut(room, ":")
	switch kind {
	case "user":
		return claims.Role == jwt.RoleCustomer && claims.Subject == id
	case "provider":
		return claims.Role == jwt.RoleProvider && claims.Subject == id
	case "booking":
		booking, err := h.dispatch.GetBooking(ctx, id)
		if err != nil {
			h.log.Warn("Handler.authorizeRoom", "booking room "+id+": "+err.Error())
			return false
		}
		return canSeeBooking(claims, booking)
	}
	return false
}
