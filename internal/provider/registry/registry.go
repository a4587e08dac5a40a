// Package registry selects the provider adapter for a company.
package registry

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/provider"
	"example.com/user-provisioner/internal/provider/google"
	"example.com/user-provisioner/internal/provider/microsoft"
)

type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger

	Microsoft []microsoft.Option
	Google    []google.Option
}

// Factory returns a provider.Factory dispatching on CompanyConfig.Provider.
func Factory(opts Options) provider.Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = provider.NewHTTPClient(provider.DefaultTimeout)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return func(cfg model.CompanyConfig) (provider.Adapter, error) {
		switch cfg.Provider {
		case model.Microsoft:
			if cfg.Microsoft == nil {
				return nil, fmt.Errorf("%w: company %s has no microsoft credentials", provider.ErrMissingCredentials, cfg.CompanyID)
			}
			mopts := append([]microsoft.Option{
				microsoft.WithHTTPClient(opts.HTTPClient),
				microsoft.WithLogger(opts.Logger),
			}, opts.Microsoft...)
			return microsoft.New(*cfg.Microsoft, mopts...)
		case model.Google:
			if cfg.Google == nil {
				return nil, fmt.Errorf("%w: company %s has no google credentials", provider.ErrMissingCredentials, cfg.CompanyID)
			}
			gopts := append([]google.Option{
				google.WithHTTPClient(opts.HTTPClient),
				google.WithLogger(opts.Logger),
			}, opts.Google...)
			return google.New(*cfg.Google, gopts...)
		}
		return nil, fmt.Errorf("%w: %q", provider.ErrUnsupportedProvider, cfg.Provider)
	}
}
