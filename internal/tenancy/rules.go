package tenancy

import (
	"idsimplify/pkg/authz"
	"idsimplify/pkg/permission"
)

func tenancyAdmin() authz.Rule { return authz.AtTenancy(permission.TenancyAdmin) }

// manageOrganisation grants adding and removing organisation users.
func manageOrganisation(orgID string) []authz.Rule {
	return []authz.Rule{
		tenancyAdmin(),
		authz.AtOrganisation(orgID, permission.OrganisationAdmin),
	}
}

// readOrganisation grants the organisation-level reads.
func readOrganisation(orgID string) []authz.Rule {
	return []authz.Rule{
		tenancyAdmin(),
		authz.AtOrganisation(orgID, permission.OrganisationAdmin, permission.OrganisationRead),
	}
}

// directoryRule grants a directory action on orgID to organisation admins
// and holders of code.
func directoryRule(orgID string, code permission.Code) authz.Rule {
	return authz.AtOrganisation(orgID, permission.OrganisationAdmin, code)
}
