package model

// CompanyConfig is the resolved provisioning policy for one tenant. It is built
// once per run and never mutated by the worker.
type CompanyConfig struct {
	CompanyID string   `yaml:"-" json:"company_id"`
	Provider  Provider `yaml:"provider" json:"provider"`
	DryRun    bool     `yaml:"dry_run" json:"dry_run"`

	Microsoft *MicrosoftCredentials `yaml:"microsoft,omitempty" json:"-"`
	Google    *GoogleCredentials    `yaml:"google,omitempty" json:"-"`
}

// MicrosoftCredentials holds the client-credentials app registration of a tenant.
type MicrosoftCredentials struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// GoogleCredentials holds a domain-wide delegated service account.
type GoogleCredentials struct {
	Domain             string `yaml:"domain"`
	AdminSubject       string `yaml:"admin_email"`
	ServiceAccountJSON string `yaml:"service_account_json"`
	CustomerID         string `yaml:"customer_id"`
}
