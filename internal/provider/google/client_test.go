package google

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/provider"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

// fakeDirectory answers the token exchange and users.insert.
type fakeDirectory struct {
	key    *rsa.PublicKey
	mu     sync.Mutex
	users  map[string]bool
	claims jwtv5.MapClaims
	status int
	body   string
	posted []insertUserRequest
}

func (f *fakeDirectory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/token":
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != jwtBearerGrant {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		claims := jwtv5.MapClaims{}
		_, err := jwtv5.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(*jwtv5.Token) (any, error) { return f.key, nil })
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`))
			return
		}
		f.claims = claims
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "ya29.test", "expires_in": 3599})
	case "/admin/directory/v1/users":
		if r.Header.Get("Authorization") != "Bearer ya29.test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		var in insertUserRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.posted = append(f.posted, in)
		if f.users[in.PrimaryEmail] {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":409,"message":"Entity already exists.","errors":[{"message":"Entity already exists.","domain":"global","reason":"duplicate"}]}}`))
			return
		}
		f.users[in.PrimaryEmail] = true
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "1001", "primaryEmail": in.PrimaryEmail})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func serviceAccountJSON(t *testing.T, tokenURI string) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(signingKey(t))
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	b, err := json.Marshal(serviceAccount{
		Type:         "service_account",
		ClientEmail:  "provisioner@project.iam.gserviceaccount.com",
		PrivateKey:   string(pemKey),
		PrivateKeyID: "kid-1",
		TokenURI:     tokenURI,
	})
	require.NoError(t, err)
	return string(b)
}

func newTestClient(t *testing.T) (*Client, *fakeDirectory) {
	t.Helper()
	f := &fakeDirectory{key: &signingKey(t).PublicKey, users: map[string]bool{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	retry := provider.DefaultRetry()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	c, err := New(model.GoogleCredentials{
		Domain:             "example.com",
		AdminSubject:       "admin@example.com",
		ServiceAccountJSON: serviceAccountJSON(t, srv.URL+"/token"),
	}, WithEndpoints("", srv.URL), WithRetry(retry))
	require.NoError(t, err)
	return c, f
}

var bob = model.UserRecord{Email: "bob@example.com", FirstName: "Bob", LastName: "Builder", Password: "Xy9!abcdefgh"}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(model.GoogleCredentials{Domain: "example.com"})
	assert.ErrorIs(t, err, provider.ErrMissingCredentials)
}

func TestAuthenticate_DelegatedAssertion(t *testing.T) {
	c, f := newTestClient(t)

	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, "admin@example.com", f.claims["sub"])
	assert.Equal(t, "provisioner@project.iam.gserviceaccount.com", f.claims["iss"])
	assert.Equal(t, directoryUserScope, f.claims["scope"])
}

func TestAuthenticate_BadServiceAccount(t *testing.T) {
	c, err := New(model.GoogleCredentials{AdminSubject: "admin@example.com", ServiceAccountJSON: "{not json"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Authenticate(context.Background()), provider.ErrAuthentication)
}

func TestCreateOrDetect_Created(t *testing.T) {
	c, f := newTestClient(t)
	require.NoError(t, c.Authenticate(context.Background()))

	out := c.CreateOrDetect(context.Background(), bob)
	assert.Equal(t, model.ActionCreated, out.Action)
	assert.Equal(t, "1001", out.ProviderUserID)
	assert.Equal(t, bob.Password, out.Password)

	require.Len(t, f.posted, 1)
	assert.True(t, f.posted[0].ChangePasswordAtNextLogin)
	assert.Equal(t, "Bob", f.posted[0].Name.GivenName)
	assert.Equal(t, "Builder", f.posted[0].Name.FamilyName)
}

func TestCreateOrDetect_AlreadyExists(t *testing.T) {
	c, f := newTestClient(t)
	require.NoError(t, c.Authenticate(context.Background()))

	assert.Equal(t, model.ActionCreated, c.CreateOrDetect(context.Background(), bob).Action)
	out := c.CreateOrDetect(context.Background(), bob)
	assert.Equal(t, model.ActionSkippedExists, out.Action)
	assert.Empty(t, out.Password)
	assert.Len(t, f.users, 1)
}

func TestCreateOrDetect_OtherFailure(t *testing.T) {
	c, f := newTestClient(t)
	require.NoError(t, c.Authenticate(context.Background()))
	f.mu.Lock()
	f.status = http.StatusForbidden
	f.body = `{"error":{"code":403,"message":"Not Authorized to access this resource/api","errors":[{"reason":"forbidden"}]}}`
	f.mu.Unlock()

	out := c.CreateOrDetect(context.Background(), bob)
	assert.Equal(t, model.ActionFailed, out.Action)
	assert.Equal(t, "googleapi: Error 403: Not Authorized to access this resource/api, forbidden", out.ErrorDetail)
}

func TestCreateOrDetect_EmptyNamesFallBack(t *testing.T) {
	c, f := newTestClient(t)
	require.NoError(t, c.Authenticate(context.Background()))

	c.CreateOrDetect(context.Background(), model.UserRecord{Email: "solo@example.com", Password: "Xy9!abcdefgh"})
	require.Len(t, f.posted, 1)
	assert.Equal(t, "solo", f.posted[0].Name.GivenName)
}

func TestAPIError_UnstructuredBody(t *testing.T) {
	err := apiError(500, []byte("boom"))
	assert.Equal(t, "googleapi: got HTTP response code 500 with body: boom", err.Error())
}
