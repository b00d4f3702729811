package tenants

import "strings"

// TenantConfig couples a Prime tenant identity with the NetDocuments
// repository it syncs into. The alias inside PrimeTenantConfig is the primary
// key; it is lower-cased before storage and lookup.
type TenantConfig struct {
	Prime   PrimeTenantConfig `json:"prime" yaml:"prime"`
	NetDocs NetDocsConfig     `json:"netDocs" yaml:"netdocs"`
}

// PrimeTenantConfig identifies one Prime tenant.
type PrimeTenantConfig struct {
	// Tenant alias used to identify which tenant to run the integration against.
	Tenant string `json:"tenant" yaml:"tenant"`
	// APIURL overrides the base Prime API endpoint for this tenant. Any
	// {tenant} tag in the URL is replaced with the alias. Empty means use the
	// base value.
	APIURL string `json:"apiUrl,omitempty" yaml:"api_url,omitempty"`
}

// NetDocsConfig holds per-tenant NetDocuments credentials and addressing.
type NetDocsConfig struct {
	OAuthTokenURL     string `json:"oauthTokenUrl" yaml:"oauth_token_url"`
	APIURL            string `json:"apiUrl" yaml:"api_url"`
	ClientID          string `json:"clientId" yaml:"client_id"`
	ClientSecret      string `json:"clientSecret" yaml:"client_secret"`
	RepositoryID      string `json:"repositoryId" yaml:"repository_id"`
	CabinetID         string `json:"cabinetId" yaml:"cabinet_id"`
	ClientAttributeID string `json:"clientAttributeId" yaml:"client_attribute_id"`
	MatterAttributeID string `json:"matterAttributeId" yaml:"matter_attribute_id"`
}

const (
	defaultOAuthTokenURL = "https://api.au.netdocuments.com/v1/OAuth"
	defaultAPIURL        = "https://api.au.netdocuments.com/"
)

// WithDefaults fills unset NetDocs fields with the stock endpoint and
// attribute identifiers.
func (c NetDocsConfig) WithDefaults() NetDocsConfig {
	if c.OAuthTokenURL == "" {
		c.OAuthTokenURL = defaultOAuthTokenURL
	}
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.ClientAttributeID == "" {
		c.ClientAttributeID = "1"
	}
	if c.MatterAttributeID == "" {
		c.MatterAttributeID = "2"
	}
	return c
}

// Alias returns the normalized primary key for this tenant.
func (c TenantConfig) Alias() string {
	return NormalizeAlias(c.Prime.Tenant)
}

// Redacted returns a copy safe to hand to clients: the NetDocs client secret
// is masked. The receiver is never mutated.
func (c TenantConfig) Redacted() TenantConfig {
	if c.NetDocs.ClientSecret != "" {
		c.NetDocs.ClientSecret = "<redacted>"
	}
	return c
}

// NormalizeAlias lower-cases and trims a tenant alias.
func NormalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
