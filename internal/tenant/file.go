package tenant

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"example.com/user-provisioner/internal/model"
)

type fileCompany struct {
	Provider  string                      `yaml:"provider"`
	DryRun    *bool                       `yaml:"dry_run"`
	Microsoft *model.MicrosoftCredentials `yaml:"microsoft"`
	Google    *model.GoogleCredentials    `yaml:"google"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func (c *fileCompany) expand() {
	c.Provider = expandEnv(c.Provider)
	if m := c.Microsoft; m != nil {
		m.TenantID = expandEnv(m.TenantID)
		m.ClientID = expandEnv(m.ClientID)
		m.ClientSecret = expandEnv(m.ClientSecret)
	}
	if g := c.Google; g != nil {
		g.Domain = expandEnv(g.Domain)
		g.AdminSubject = expandEnv(g.AdminSubject)
		g.ServiceAccountJSON = expandEnv(g.ServiceAccountJSON)
		g.CustomerID = expandEnv(g.CustomerID)
	}
}

type fileRegistry struct {
	Companies map[string]fileCompany `yaml:"companies"`
}

// FileResolver serves companies from a YAML registry. String values may
// reference environment variables as ${NAME} so secrets stay out of the file;
// the substituted text is used verbatim and a bare '$' is kept as is.
// A company without dry_run is treated as dry-run.
type FileResolver struct {
	companies map[string]model.CompanyConfig
}

func LoadFile(path string) (*FileResolver, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseFile(b)
}

func ParseFile(b []byte) (*FileResolver, error) {
	var reg fileRegistry
	if err := yaml.Unmarshal(b, &reg); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}
	out := make(map[string]model.CompanyConfig, len(reg.Companies))
	for id, c := range reg.Companies {
		c.expand()
		p, err := model.ParseProvider(c.Provider)
		if err != nil {
			// kept so the orchestrator reports it as a configuration error
			p = model.Provider(c.Provider)
		}
		dry := true
		if c.DryRun != nil {
			dry = *c.DryRun
		}
		out[id] = model.CompanyConfig{
			CompanyID: id,
			Provider:  p,
			DryRun:    dry,
			Microsoft: c.Microsoft,
			Google:    withCustomer(c.Google),
		}
	}
	return &FileResolver{companies: out}, nil
}

func (f *FileResolver) Resolve(ctx context.Context, companyID string) (model.CompanyConfig, error) {
	cfg, ok := f.companies[companyID]
	if !ok {
		return model.CompanyConfig{}, ErrNotFound
	}
	return cfg, nil
}

// Companies lists the configured company ids.
func (f *FileResolver) Companies() []string {
	out := make([]string, 0, len(f.companies))
	for id := range f.companies {
		out = append(out, id)
	}
	return out
}

func withCustomer(g *model.GoogleCredentials) *model.GoogleCredentials {
	if g != nil && g.CustomerID == "" {
		g.CustomerID = "my_customer"
	}
	return g
}
