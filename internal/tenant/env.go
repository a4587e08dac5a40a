package tenant

import (
	"context"
	"os"
	"strconv"
	"strings"

	"example.com/user-provisioner/internal/model"
)

// EnvResolver reads a company from variables prefixed with its id, e.g.
// CONTOSO_PROVIDER, CONTOSO_TENANT_ID, CONTOSO_CLIENT_ID, CONTOSO_CLIENT_SECRET,
// ACME_DOMAIN, ACME_ADMIN_EMAIL, ACME_SA_JSON and <PREFIX>_DRY_RUN.
// A company is known when <PREFIX>_PROVIDER is set.
type EnvResolver struct {
	Lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{Lookup: os.LookupEnv}
}

func (e *EnvResolver) Resolve(ctx context.Context, companyID string) (model.CompanyConfig, error) {
	prefix := EnvPrefix(companyID)
	get := func(k string) string {
		v, _ := e.Lookup(prefix + "_" + k)
		return strings.TrimSpace(v)
	}
	providerName := get("PROVIDER")
	if prefix == "" || providerName == "" {
		return model.CompanyConfig{}, ErrNotFound
	}

	p, err := model.ParseProvider(providerName)
	if err != nil {
		p = model.Provider(providerName)
	}
	dry := true
	if v := get("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			dry = b
		}
	}
	cfg := model.CompanyConfig{CompanyID: companyID, Provider: p, DryRun: dry}
	switch p {
	case model.Microsoft:
		cfg.Microsoft = &model.MicrosoftCredentials{
			TenantID:     get("TENANT_ID"),
			ClientID:     get("CLIENT_ID"),
			ClientSecret: get("CLIENT_SECRET"),
		}
	case model.Google:
		cfg.Google = withCustomer(&model.GoogleCredentials{
			Domain:             get("DOMAIN"),
			AdminSubject:       get("ADMIN_EMAIL"),
			ServiceAccountJSON: get("SA_JSON"),
			CustomerID:         get("CUSTOMER_ID"),
		})
	}
	return cfg, nil
}

// EnvPrefix upper-cases the id and replaces anything not alphanumeric with '_'.
func EnvPrefix(companyID string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(companyID) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
