package functions

import (
	"context"
	"encoding/json"
	"net/http"
)

type createOrganizationRequest struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

type createOrganizationResponse struct {
	ID string `json:"id"`
}

type UpdateDealershipRequest struct {
	DealershipID string `json:"dealershipId"`
	Name         string `json:"name"`
	Size         string `json:"size"`
	UserID       string `json:"userId"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type SendInvitationRequest struct {
	Email      string  `json:"email"`
	Role       string  `json:"role"`
	Department *string `json:"department"`
	Token      string  `json:"token"`
	OrgID      string  `json:"orgId"`
	OrgName    string  `json:"orgName"`
}

type validateInviteRequest struct {
	Token string `json:"token"`
}

type ValidateInviteResponse struct {
	Email      string      `json:"email"`
	OrgID      string      `json:"org_id"`
	Role       string      `json:"role"`
	Department *string     `json:"department"`
	InviteID   json.Number `json:"invite_id"`
}

type UpdateProfileRequest struct {
	UserID              string `json:"userId"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
	DealershipID        string `json:"dealership_id"`
}

func (c *httpClient) CreateOrganization(ctx context.Context, name, userID string) (string, error) {
	var resp createOrganizationResponse
	if err := c.invoke(ctx, NameCreateOrganization, createOrganizationRequest{Name: name, UserID: userID}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &FunctionError{Name: NameCreateOrganization, Status: http.StatusOK, Message: "response has no id"}
	}
	return resp.ID, nil
}

func (c *httpClient) UpdateDealership(ctx context.Context, req UpdateDealershipRequest) error {
	return c.invokeSuccess(ctx, NameUpdateDealership, req)
}

func (c *httpClient) SendInvitation(ctx context.Context, req SendInvitationRequest) error {
	return c.invokeSuccess(ctx, NameSendInvitation, req)
}

func (c *httpClient) ValidateInvite(ctx context.Context, token string) (*ValidateInviteResponse, error) {
	var resp ValidateInviteResponse
	if err := c.invoke(ctx, NameValidateInvite, validateInviteRequest{Token: token}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) UpdateProfile(ctx context.Context, req UpdateProfileRequest) error {
	return c.invokeSuccess(ctx, NameUpdateProfile, req)
}

// invokeSuccess treats a 2xx reply with success=false as a FunctionError.
func (c *httpClient) invokeSuccess(ctx context.Context, name string, body any) error {
	var resp successResponse
	if err := c.invoke(ctx, name, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "function reported failure"
		}
		return &FunctionError{Name: name, Status: http.StatusOK, Message: msg}
	}
	return nil
}
