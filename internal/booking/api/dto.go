package api

import "service-dispatch/internal/booking/domain"

type UpdateStatusRequest struct {
	Status domain.Status `json:"status"`
}

type AssignProviderRequest struct {
	ProviderID string `json:"providerId"`
}

type VerifyProviderRequest struct {
	Verified *bool   `json:"verified"`
	Tier     *string `json:"tier,omitempty"`
}

type PauseProviderRequest struct {
	Reason string `json:"reason"`
}
