// Package google provisions accounts in a Google Workspace directory using a
// domain-wide delegated service account.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/provider"
)

const (
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultAdminURL    = "https://admin.googleapis.com"
	directoryUserScope = "https://www.googleapis.com/auth/admin.directory.user"
	jwtBearerGrant     = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	assertionTTL = time.Hour
	maxBody      = 64 << 10
)

type serviceAccount struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

type Client struct {
	creds    model.GoogleCredentials
	tokenURL string
	adminURL string
	http     *http.Client
	retry    provider.Retry
	logger   *zap.Logger
	now      func() time.Time

	token string
}

type Option func(*Client)

// WithEndpoints overrides the token endpoint (otherwise taken from the
// service account's token_uri) and the Admin SDK host.
func WithEndpoints(tokenURL, adminURL string) Option {
	return func(c *Client) {
		if tokenURL != "" {
			c.tokenURL = tokenURL
		}
		if adminURL != "" {
			c.adminURL = strings.TrimRight(adminURL, "/")
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

func New(creds model.GoogleCredentials, opts ...Option) (*Client, error) {
	if creds.AdminSubject == "" || creds.ServiceAccountJSON == "" {
		return nil, fmt.Errorf("%w: google requires admin_email and service_account_json", provider.ErrMissingCredentials)
	}
	c := &Client{
		creds:    creds,
		adminURL: defaultAdminURL,
		http:     provider.NewHTTPClient(provider.DefaultTimeout),
		retry:    provider.DefaultRetry(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() model.Provider { return model.Google }

// Authenticate signs a JWT assertion impersonating the admin subject and
// trades it for an access token scoped to directory user management.
func (c *Client) Authenticate(ctx context.Context) error {
	var sa serviceAccount
	if err := json.Unmarshal([]byte(c.creds.ServiceAccountJSON), &sa); err != nil {
		return fmt.Errorf("%w: google service account json: %v", provider.ErrAuthentication, err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return fmt.Errorf("%w: google service account json lacks client_email or private_key", provider.ErrAuthentication)
	}
	key, err := jwtv5.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return fmt.Errorf("%w: google private key: %v", provider.ErrAuthentication, err)
	}

	tokenURL := c.tokenURL
	if tokenURL == "" {
		tokenURL = sa.TokenURI
	}
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	now := c.now()
	claims := jwtv5.MapClaims{
		"iss":   sa.ClientEmail,
		"sub":   c.creds.AdminSubject,
		"scope": directoryUserScope,
		"aud":   tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	if sa.PrivateKeyID != "" {
		tok.Header["kid"] = sa.PrivateKeyID
	}
	assertion, err := tok.SignedString(key)
	if err != nil {
		return fmt.Errorf("%w: sign assertion: %v", provider.ErrAuthentication, err)
	}

	form := url.Values{"grant_type": {jwtBearerGrant}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: google token request: %v", provider.ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("google: requesting token", zap.String("subject", c.creds.AdminSubject))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: google token request: %v", provider.ErrAuthentication, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: google token request failed: %s: %s", provider.ErrAuthentication, resp.Status, provider.Truncate(string(body), provider.MaxErrorDetail))
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.AccessToken == "" {
		return fmt.Errorf("%w: google token response has no access_token", provider.ErrAuthentication)
	}
	c.token = out.AccessToken
	return nil
}

type userName struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

type insertUserRequest struct {
	PrimaryEmail              string   `json:"primaryEmail"`
	Name                      userName `json:"name"`
	Password                  string   `json:"password"`
	ChangePasswordAtNextLogin bool     `json:"changePasswordAtNextLogin"`
}

// CreateOrDetect inserts the user. A failure whose text mentions "already
// exists" means the account is there from an earlier delivery.
func (c *Client) CreateOrDetect(ctx context.Context, u model.UserRecord) model.Outcome {
	id, err := c.insert(ctx, u)
	if err != nil {
		msg := err.Error()
		if strings.Contains(strings.ToLower(msg), "already exists") {
			return model.SkippedExists(u.Email)
		}
		return model.Failed(u.Email, provider.Truncate(msg, provider.MaxErrorDetail))
	}
	return model.Created(u.Email, id, u.Password)
}

func (c *Client) insert(ctx context.Context, u model.UserRecord) (string, error) {
	if c.token == "" {
		return "", errors.New("google client is not authenticated")
	}
	payload := insertUserRequest{
		PrimaryEmail:              u.Email,
		Name:                      userName{GivenName: nameOr(u.FirstName, u.MailNickname()), FamilyName: nameOr(u.LastName, u.MailNickname())},
		Password:                  u.Password,
		ChangePasswordAtNextLogin: true,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	resp, err := c.retry.Do(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL+"/admin/directory/v1/users", bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apiError(resp.StatusCode, body)
	}
	var out struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &out)
	return out.ID, nil
}

// apiError renders an Admin SDK error body the way the Google client
// libraries do, e.g. "googleapi: Error 409: Entity already exists., duplicate".
func apiError(status int, body []byte) error {
	var env struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Message == "" {
		return fmt.Errorf("googleapi: got HTTP response code %d with body: %s", status, body)
	}
	msg := fmt.Sprintf("googleapi: Error %d: %s", status, env.Error.Message)
	if len(env.Error.Errors) > 0 && env.Error.Errors[0].Reason != "" {
		msg += ", " + env.Error.Errors[0].Reason
	}
	return errors.New(msg)
}

// the directory rejects empty name parts
func nameOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
