// ABOUTME: Sample installation data for local development and end-to-end tests
// ABOUTME: Used by the admin CLI seed command

package installation

import "time"

// NewOrgWideInstallation returns a sample organization-wide installation
// with both a bot and a user grant expiring at the given time.
func NewOrgWideInstallation(expiresAt time.Time) *Installation {
	return &Installation{
		AppID:               "test-app-id",
		EnterpriseID:        "test-enterprise-id",
		UserID:              "test-user-id-1",
		IsEnterpriseInstall: true,
		Bot: &Grant{
			Token:        "xoxb-XXX",
			RefreshToken: "xoxe-1-XXX",
			ExpiresAt:    expiresAt,
			Scopes:       []string{"chat:write", "commands"},
		},
		User: &Grant{
			Token:        "xoxp-XXX",
			RefreshToken: "xoxe-1-XXX",
			ExpiresAt:    expiresAt,
			Scopes:       []string{"search:read"},
		},
	}
}
