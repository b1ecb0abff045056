package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"service-dispatch/internal/booking/app"
	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/notification"
	"service-dispatch/internal/realtime"
	"service-dispatch/internal/shared/apperrors"
	"service-dispatch/internal/shared/jwt"
	"service-dispatch/internal/shared/middleware"
	"service-dispatch/internal/shared/util"
	"service-dispatch/internal/shared/validation"
)

type Handler struct {
	dispatch      *app.Coordinator
	tracker       *app.Tracker
	notifications *notification.Gateway
	tokens        *jwt.Manager
	ws            *realtime.WSHandler
	log           *util.Logger
}

func NewHandler(dispatch *app.Coordinator, tracker *app.Tracker, notifications *notification.Gateway, tokens *jwt.Manager, hub *realtime.Hub, log *util.Logger) *Handler {
	h := &Handler{
		dispatch:      dispatch,
		tracker:       tracker,
		notifications: notifications,
		tokens:        tokens,
		log:           log,
	}
	h.ws = realtime.NewWSHandler(hub, tokens, h.authorizeRoom, log)
	return h
}

// fail logs with the request id and writes the error envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, instance string, err error) {
	status := apperrors.CheckError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(instance, "request "+middleware.GetRequestID(r.Context()), err)
	} else {
		h.log.Warn(instance, fmt.Sprintf("%d: %v", status, err))
	}
	util.ErrResponseInJson(w, err)
}

func (h *Handler) forbidden(w http.ResponseWriter, instance, subject string) {
	h.log.Warn(instance, "forbidden for "+subject)
	util.WriteJSONError(w, "forbidden", http.StatusForbidden)
}

// decodeJSON rejects unknown fields. An empty body decodes to the zero value
// when allowEmpty is set.
func decodeJSON(r *http.Request, v interface{}, allowEmpty bool) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return apperrors.Validation("body", "invalid JSON: "+err.Error())
	}
	return nil
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.GetBooking"
	claims := ClaimsFrom(r.Context())

	booking, err := h.dispatch.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if !canSeeBooking(claims, booking) {
		h.forbidden(w, instance, claims.Subject)
		return
	}
	util.ResponseInJson(w, http.StatusOK, booking)
}

func (h *Handler) UpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.UpdateBookingStatus"
	claims := ClaimsFrom(r.Context())

	var req UpdateStatusRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if req.Status == "" {
		h.fail(w, r, instance, apperrors.Validation("status", "is required"))
		return
	}

	booking, err := h.dispatch.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if !canSetStatus(claims, booking, req.Status) {
		h.forbidden(w, instance, claims.Subject)
		return
	}

	updated, err := h.dispatch.UpdateBookingStatus(r.Context(), booking.ID, req.Status)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, updated)
}

func (h *Handler) AssignProvider(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.AssignProvider"

	var req AssignProviderRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, instance, err)
		return
	}

	booking, err := h.dispatch.AssignProvider(r.Context(), chi.URLParam(r, "id"), req.ProviderID)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, booking)
}

func (h *Handler) VerifyProvider(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.VerifyProvider"

	var req VerifyProviderRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if req.Verified == nil {
		h.fail(w, r, instance, apperrors.Validation("verified", "is required"))
		return
	}

	provider, err := h.dispatch.VerifyProvider(r.Context(), chi.URLParam(r, "id"), *req.Verified, req.Tier)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, provider)
}

func (h *Handler) PauseProvider(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.PauseProvider"
	claims := ClaimsFrom(r.Context())
	providerID := chi.URLParam(r, "id")
	if !actsForProvider(claims, providerID) {
		h.forbidden(w, instance, claims.Subject)
		return
	}

	var req PauseProviderRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.fail(w, r, instance, err)
		return
	}

	result, err := h.dispatch.PauseProvider(r.Context(), providerID, req.Reason)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, result)
}

func (h *Handler) ActivateProvider(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.ActivateProvider"
	claims := ClaimsFrom(r.Context())
	providerID := chi.URLParam(r, "id")
	if !actsForProvider(claims, providerID) {
		h.forbidden(w, instance, claims.Subject)
		return
	}

	provider, err := h.dispatch.ActivateProvider(r.Context(), providerID)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, provider)
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.UpdateLocation"
	claims := ClaimsFrom(r.Context())

	var req app.LocationUpdate
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if req.ProviderID == "" && claims.Role == jwt.RoleProvider {
		req.ProviderID = claims.Subject
	}
	if !actsForProvider(claims, req.ProviderID) {
		h.forbidden(w, instance, claims.Subject)
		return
	}

	ack, err := h.tracker.UpdateLocation(r.Context(), req)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, ack)
}

func (h *Handler) UpdateProviderStatus(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.UpdateProviderStatus"
	claims := ClaimsFrom(r.Context())

	var req app.StatusUpdate
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if req.ProviderID == "" && claims.Role == jwt.RoleProvider {
		req.ProviderID = claims.Subject
	}
	if !actsForProvider(claims, req.ProviderID) {
		h.forbidden(w, instance, claims.Subject)
		return
	}

	ack, err := h.tracker.UpdateStatus(r.Context(), req)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, ack)
}

// visibleBooking loads the booking in the URL and checks the caller may see it.
func (h *Handler) visibleBooking(w http.ResponseWriter, r *http.Request, instance string) (*domain.Booking, bool) {
	claims := ClaimsFrom(r.Context())
	booking, err := h.dispatch.GetBooking(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		h.fail(w, r, instance, err)
		return nil, false
	}
	if !canSeeBooking(claims, booking) {
		h.forbidden(w, instance, claims.Subject)
		return nil, false
	}
	return booking, true
}

func (h *Handler) TrackingInfo(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.TrackingInfo"
	booking, ok := h.visibleBooking(w, r, instance)
	if !ok {
		return
	}
	info, err := h.tracker.TrackingInfo(r.Context(), booking.ID)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, info)
}

func (h *Handler) ETA(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.ETA"
	booking, ok := h.visibleBooking(w, r, instance)
	if !ok {
		return
	}
	eta, err := h.tracker.ETA(r.Context(), booking.ID)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, eta)
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.ListNotifications"
	claims := ClaimsFrom(r.Context())
	q := r.URL.Query()

	kind := domain.RecipientKind(q.Get("recipientKind"))
	if kind == "" {
		kind = recipientKindFor(claims.Role)
	}
	recipientID := q.Get("recipientId")
	if recipientID == "" {
		recipientID = claims.Subject
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, instance, apperrors.Validation("limit", "must be a number"))
			return
		}
		limit = n
	}
	limit, err := validation.ValidateLimit(limit)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if !actsForRecipient(claims, kind, recipientID) {
		h.forbidden(w, instance, claims.Subject)
		return
	}

	list, err := h.notifications.ListForRecipient(r.Context(), kind, recipientID, limit)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	util.ResponseInJson(w, http.StatusOK, list)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	instance := "Handler.MarkNotificationRead"
	claims := ClaimsFrom(r.Context())

	n, err := h.notifications.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	if !actsForRecipient(claims, n.RecipientKind, n.RecipientID) {
		h.forbidden(w, instance, claims.Subject)
		return
	}

	n, err = h.notifications.MarkRead(r.Context(), n.ID)
	if err != nil {
		h.fail(w, r, instance, err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, n)
}
