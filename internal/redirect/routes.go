package redirect

import "autolead.app/crm/internal/model"

// Route is a dashboard path the client should render.
type Route string

const (
	RouteHome               Route = "/"
	RouteSignIn             Route = "/sign-in"
	RouteSignUp             Route = "/sign-up"
	RouteInviteAccept       Route = "/invite/accept"
	RouteCreateOrganization Route = "/create-organization"
	RouteOnboardingWelcome  Route = "/onboarding/welcome"
	RouteAdminDashboard     Route = "/dashboard/admin"
	RouteDashboard          Route = "/dashboard"
)

// Onboarding families. Two paths in the same family never redirect to each other.
const (
	adminOnboardingPrefix = "/onboarding"
	roleOnboardingPrefix  = "/role-onboarding"
)

var publicPaths = map[string]struct{}{
	string(RouteHome):         {},
	string(RouteSignIn):       {},
	string(RouteSignUp):       {},
	string(RouteInviteAccept): {},
}

var roleDashboards = map[model.Role]Route{
	model.RoleSalesManager:     "/dashboard/sales-manager",
	model.RoleSalesRep:         "/dashboard/sales",
	model.RoleFinanceAdmin:     "/dashboard/finance",
	model.RoleServiceManager:   "/dashboard/service",
	model.RoleInventoryManager: "/dashboard/inventory",
	model.RoleMarketing:        "/dashboard/marketing",
}

var roleOnboarding = map[model.Role]Route{
	model.RoleSalesManager:     "/role-onboarding/sales-manager",
	model.RoleSalesRep:         "/role-onboarding/sales",
	model.RoleFinanceAdmin:     "/role-onboarding/finance",
	model.RoleServiceManager:   "/role-onboarding/service",
	model.RoleInventoryManager: "/role-onboarding/inventory",
	model.RoleMarketing:        "/role-onboarding/marketing",
}

// OnboardingRoute maps a step of the admin flow to its page.
func OnboardingRoute(step model.OnboardingStep) Route {
	return Route(adminOnboardingPrefix + "/" + string(step))
}

func DashboardFor(role model.Role) Route {
	if r, ok := roleDashboards[role]; ok {
		return r
	}
	return RouteDashboard
}

func RoleOnboardingFor(role model.Role) Route {
	if r, ok := roleOnboarding[role]; ok {
		return r
	}
	return RouteDashboard
}

func IsPublic(path string) bool {
	_, ok := publicPaths[path]
	return ok
}
