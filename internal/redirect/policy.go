// Package redirect decides where a user lands after every session transition.
//
// DetermineRedirectPath is pure. Redirect wraps it with the loop guards and
// performs at most one navigation through the caller's Navigator.
package redirect

import (
	"context"
	"strings"

	"autolead.app/crm/common/metrics"
	"autolead.app/crm/internal/model"
)

type Navigator interface {
	Navigate(ctx context.Context, route Route)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, route Route)

func (f NavigatorFunc) Navigate(ctx context.Context, route Route) {
	f(ctx, route)
}

// DetermineRedirectPath picks the single route for profile. First match wins.
func DetermineRedirectPath(profile *model.Profile, isNewSession bool) Route {
	if profile == nil {
		return RouteSignIn
	}

	if isNewSession {
		if !profile.HasOrganization() {
			return RouteCreateOrganization
		}
		if profile.IsAdmin && !profile.OnboardingCompleted {
			return RouteOnboardingWelcome
		}
		if !profile.IsAdmin && !profile.RoleOnboardingCompleted {
			return RoleOnboardingFor(profile.PrimaryRole())
		}
	}

	// An existing session without an organization still must not see a dashboard.
	if !profile.HasOrganization() {
		return RouteCreateOrganization
	}

	if profile.IsAdmin {
		return RouteAdminDashboard
	}
	return DashboardFor(profile.PrimaryRole())
}

// Redirect computes the target and navigates unless the current path makes it
// redundant. The boolean reports whether a navigation was issued.
func Redirect(ctx context.Context, profile *model.Profile, isNewSession bool, nav Navigator, currentPath string) (Route, bool) {
	target := DetermineRedirectPath(profile, isNewSession)
	if Suppressed(currentPath, target) {
		return target, false
	}
	metrics.Redirects.WithLabelValues(string(target)).Inc()
	nav.Navigate(ctx, target)
	return target, true
}

// Suppressed reports whether navigating from currentPath to target would be a
// no-op or a loop.
func Suppressed(currentPath string, target Route) bool {
	if currentPath == "" {
		return false
	}
	if strings.HasPrefix(currentPath, string(target)) {
		return true
	}
	if IsPublic(currentPath) {
		return true
	}
	return sameOnboardingFamily(currentPath, string(target))
}

func sameOnboardingFamily(a, b string) bool {
	for _, prefix := range []string{adminOnboardingPrefix, roleOnboardingPrefix} {
		if inFamily(a, prefix) && inFamily(b, prefix) {
			return true
		}
	}
	return false
}

func inFamily(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
