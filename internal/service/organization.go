package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"autolead.app/crm/common/id"
	"autolead.app/crm/common/metrics"
	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/store"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationFetch    = errors.New("fetching organization failed")
	ErrOrganizationUpdate   = errors.New("updating organization failed")
)

// OrganizationService reads and writes organizations across the current
// organizations table and the legacy dealerships table.
type OrganizationService interface {
	FetchOrganization(ctx context.Context, orgID string) (*model.Organization, error)
	UpdateOrganization(ctx context.Context, orgID string, fields model.OrganizationUpdate, userID string) error
	// CreateOrganizationDirect writes a legacy row, falling back to the create-organization
	// function. It returns the id of whichever write succeeded.
	CreateOrganizationDirect(ctx context.Context, name, size, userID string) (string, error)
	// DeleteOrganization removes the row from both tables. Missing rows are not an error.
	DeleteOrganization(ctx context.Context, orgID string) error
}

type organizationService struct {
	orgStore        store.OrganizationStore
	dealershipStore store.DealershipStore
	fn              functions.Client
}

func NewOrganizationService(orgStore store.OrganizationStore, dealershipStore store.DealershipStore, fn functions.Client) OrganizationService {
	return &organizationService{
		orgStore:        orgStore,
		dealershipStore: dealershipStore,
		fn:              fn,
	}
}

func (s *organizationService) FetchOrganization(ctx context.Context, orgID string) (*model.Organization, error) {
	org, err := s.orgStore.GetByID(ctx, orgID)
	if err == nil {
		return org, nil
	}
	currentErr := err
	if !errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "organizations read failed, trying dealerships", "error", err, "organization_id", orgID)
	}

	d, err := s.dealershipStore.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && errors.Is(currentErr, store.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrOrganizationFetch, errors.Join(currentErr, err))
	}

	metrics.OrganizationFallbacks.WithLabelValues("fetch").Inc()
	slog.DebugContext(ctx, "organization served from legacy table", "organization_id", orgID)

	return d.ToOrganization(), nil
}

// UpdateOrganization writes whichever table holds orgID: dealerships first,
// then organizations when no dealership row matched. The update-dealership
// function is the last resort.
func (s *organizationService) UpdateOrganization(ctx context.Context, orgID string, fields model.OrganizationUpdate, userID string) error {
	directErr := s.dealershipStore.Update(ctx, orgID, fields)
	if directErr == nil {
		return nil
	}
	if errors.Is(directErr, store.ErrNotFound) {
		currentErr := s.orgStore.Update(ctx, orgID, fields)
		if currentErr == nil {
			return nil
		}
		directErr = errors.Join(directErr, currentErr)
	}

	slog.WarnContext(ctx, "direct organization update rejected, trying update-dealership",
		"error", directErr,
		"organization_id", orgID,
	)
	metrics.OrganizationFallbacks.WithLabelValues("update").Inc()

	fnErr := s.fn.UpdateDealership(ctx, functions.UpdateDealershipRequest{
		DealershipID: orgID,
		Name:         fields.Name,
		Size:         fields.Size,
		UserID:       userID,
	})
	if fnErr == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrOrganizationUpdate, errors.Join(directErr, fnErr))
}

func (s *organizationService) CreateOrganizationDirect(ctx context.Context, name, size, userID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidOrganizationName
	}

	d := &model.Dealership{ID: id.NewOrganizationID(), Name: name}
	if size != "" {
		d.Size = &size
	}

	directErr := s.dealershipStore.Create(ctx, d)
	if directErr == nil {
		return d.ID, nil
	}

	slog.WarnContext(ctx, "direct dealership insert rejected, trying create-organization",
		"error", directErr,
		"user_id", userID,
	)
	metrics.OrganizationFallbacks.WithLabelValues("create").Inc()

	orgID, fnErr := s.fn.CreateOrganization(ctx, name, userID)
	if fnErr != nil {
		return "", fmt.Errorf("%w: %w", ErrOrganizationCreate, errors.Join(directErr, fnErr))
	}
	return orgID, nil
}

func (s *organizationService) DeleteOrganization(ctx context.Context, orgID string) error {
	var errs []error
	if err := s.dealershipStore.Delete(ctx, orgID); err != nil && !errors.Is(err, store.ErrNotFound) {
		errs = append(errs, fmt.Errorf("deleting dealership: %w", err))
	}
	if err := s.orgStore.Delete(ctx, orgID); err != nil && !errors.Is(err, store.ErrNotFound) {
		errs = append(errs, fmt.Errorf("deleting organization: %w", err))
	}
	return errors.Join(errs...)
}
