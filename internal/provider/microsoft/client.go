package microsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/provider"
)

const (
	defaultLoginURL = "https://login.microsoftonline.com"
	defaultGraphURL = "https://graph.microsoft.com"
	graphScope      = "https://graph.microsoft.com/.default"

	maxBody = 64 << 10
)

// Client creates users through Microsoft Graph with an app-only token.
type Client struct {
	creds    model.MicrosoftCredentials
	loginURL string
	graphURL string
	http     *http.Client
	retry    provider.Retry
	logger   *zap.Logger

	token string
}

type Option func(*Client)

// WithEndpoints points the client at alternative login and Graph hosts.
func WithEndpoints(loginURL, graphURL string) Option {
	return func(c *Client) {
		if loginURL != "" {
			c.loginURL = strings.TrimRight(loginURL, "/")
		}
		if graphURL != "" {
			c.graphURL = strings.TrimRight(graphURL, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithRetry(r provider.Retry) Option {
	return func(c *Client) { c.retry = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(creds model.MicrosoftCredentials, opts ...Option) (*Client, error) {
	if creds.TenantID == "" || creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: microsoft requires tenant_id, client_id and client_secret", provider.ErrMissingCredentials)
	}
	c := &Client{
		creds:    creds,
		loginURL: defaultLoginURL,
		graphURL: defaultGraphURL,
		http:     provider.NewHTTPClient(provider.DefaultTimeout),
		retry:    provider.DefaultRetry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() model.Provider { return model.Microsoft }

// Authenticate exchanges the client credentials for a Graph bearer token.
func (c *Client) Authenticate(ctx context.Context) error {
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginURL, url.PathEscape(c.creds.TenantID))
	form := url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"scope":         {graphScope},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: microsoft token request: %v", provider.ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("microsoft: requesting token", zap.String("tenant_id", c.creds.TenantID))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: microsoft token request: %v", provider.ErrAuthentication, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: microsoft token request failed: %s: %s", provider.ErrAuthentication, resp.Status, provider.Truncate(string(body), provider.MaxErrorDetail))
	}
	var respData struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &respData); err != nil || respData.AccessToken == "" {
		return fmt.Errorf("%w: microsoft token response has no access_token", provider.ErrAuthentication)
	}
	c.logger.Debug("microsoft: obtained token", zap.Int("len", len(respData.AccessToken)))
	c.token = respData.AccessToken
	return nil
}

type passwordProfile struct {
	Password                      string `json:"password"`
	ForceChangePasswordNextSignIn bool   `json:"forceChangePasswordNextSignIn"`
}

type createUserRequest struct {
	AccountEnabled    bool            `json:"accountEnabled"`
	DisplayName       string          `json:"displayName"`
	MailNickname      string          `json:"mailNickname"`
	UserPrincipalName string          `json:"userPrincipalName"`
	GivenName         string          `json:"givenName,omitempty"`
	Surname           string          `json:"surname,omitempty"`
	PasswordProfile   passwordProfile `json:"passwordProfile"`
}

// CreateOrDetect creates the user, treating an existing principal as skipped.
func (c *Client) CreateOrDetect(ctx context.Context, u model.UserRecord) model.Outcome {
	if c.token == "" {
		return model.Failed(u.Email, "microsoft client is not authenticated")
	}
	payload := createUserRequest{
		AccountEnabled:    true,
		DisplayName:       u.DisplayName(),
		MailNickname:      u.MailNickname(),
		UserPrincipalName: u.Email,
		GivenName:         u.FirstName,
		Surname:           u.LastName,
		PasswordProfile: passwordProfile{
			Password:                      u.Password,
			ForceChangePasswordNextSignIn: true,
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return model.Failed(u.Email, err.Error())
	}

	resp, err := c.retry.Do(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphURL+"/v1.0/users", bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	})
	if err != nil {
		return model.Failed(u.Email, provider.Truncate(err.Error(), provider.MaxErrorDetail))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	switch {
	case resp.StatusCode == http.StatusCreated:
		var out struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(body, &out)
		return model.Created(u.Email, out.ID, u.Password)
	case alreadyExists(resp.StatusCode, body):
		return model.SkippedExists(u.Email)
	default:
		detail := string(body)
		if strings.TrimSpace(detail) == "" {
			detail = resp.Status
		}
		return model.Failed(u.Email, provider.Truncate(detail, provider.MaxErrorDetail))
	}
}

// alreadyExists recognises Graph's conflict answers for a duplicate
// userPrincipalName: either 409 or a 400 ObjectConflict message.
func alreadyExists(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	return status == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "already exists")
}
