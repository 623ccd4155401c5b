package token

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/grantdesk/grantdesk"
	"github.com/stretchr/testify/assert"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func keysFor(keys map[string][]byte) KeyFunc {
	return func(ctx context.Context, kind Kind, subject string) ([]byte, error) {
		k, ok := keys[string(kind)+"/"+subject]
		if !ok {
			return nil, grantdesk.ErrNotFound
		}
		return k, nil
	}
}

func Test_GenerateAndValidate(t *testing.T) {
	user := grantdesk.AuthUser{ID: "u1", Password: "hash", LastLogout: time.Unix(1700000000, 0)}

	testCases := []struct {
		name      string
		grant     Grant
		keys      map[string][]byte
		kinds     []Kind
		mangle    func(string) string
		secret    []byte
		expectErr error
	}{
		{
			name:  "valid user token",
			grant: Grant{Kind: User, Subject: "u1", Key: UserKey(user)},
			keys:  map[string][]byte{"user/u1": UserKey(user)},
			kinds: []Kind{User},
		},
		{
			name:  "user and client accepted together",
			grant: Grant{Kind: Client, Subject: "c1", Key: ClientKey("open-sesame")},
			keys:  map[string][]byte{"client/c1": ClientKey("open-sesame")},
			kinds: []Kind{User, Client},
		},
		{
			name:      "wrong kind",
			grant:     Grant{Kind: Reset, Subject: "u1", Key: ResetKey(user)},
			keys:      map[string][]byte{"reset/u1": ResetKey(user)},
			kinds:     []Kind{User},
			expectErr: grantdesk.ErrBadCredentials,
		},
		{
			name:      "subject key changed",
			grant:     Grant{Kind: Client, Subject: "c1", Key: ClientKey("old-code")},
			keys:      map[string][]byte{"client/c1": ClientKey("new-code")},
			kinds:     []Kind{Client},
			expectErr: grantdesk.ErrBadCredentials,
		},
		{
			name:      "subject gone",
			grant:     Grant{Kind: User, Subject: "u1", Key: UserKey(user)},
			keys:      map[string][]byte{},
			kinds:     []Kind{User},
			expectErr: grantdesk.ErrBadCredentials,
		},
		{
			name:      "different server secret",
			grant:     Grant{Kind: User, Subject: "u1", Key: UserKey(user)},
			keys:      map[string][]byte{"user/u1": UserKey(user)},
			kinds:     []Kind{User},
			secret:    []byte("another-secret-another-secret-xx"),
			expectErr: grantdesk.ErrBadCredentials,
		},
		{
			name:      "expired beyond leeway",
			grant:     Grant{Kind: User, Subject: "u1", Key: UserKey(user), Lifetime: -2 * time.Minute},
			keys:      map[string][]byte{"user/u1": UserKey(user)},
			kinds:     []Kind{User},
			expectErr: grantdesk.ErrExpired,
		},
		{
			name:  "expired within leeway",
			grant: Grant{Kind: User, Subject: "u1", Key: UserKey(user), Lifetime: -10 * time.Second},
			keys:  map[string][]byte{"user/u1": UserKey(user)},
			kinds: []Kind{User},
		},
		{
			name:      "tampered payload",
			grant:     Grant{Kind: User, Subject: "u1", Key: UserKey(user)},
			keys:      map[string][]byte{"user/u1": UserKey(user)},
			kinds:     []Kind{User},
			mangle:    func(s string) string { return s[:len(s)-4] + "AAAA" },
			expectErr: grantdesk.ErrBadCredentials,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			tok, _, err := Generate(testSecret, tc.grant)
			if !assert.NoError(err) {
				return
			}
			if tc.mangle != nil {
				tok = tc.mangle(tok)
			}
			secret := testSecret
			if tc.secret != nil {
				secret = tc.secret
			}

			claims, err := Validate(context.Background(), tok, secret, keysFor(tc.keys), tc.kinds...)

			if tc.expectErr != nil {
				assert.ErrorIs(err, tc.expectErr)
				return
			}
			if !assert.NoError(err) {
				return
			}
			assert.Equal(tc.grant.Subject, claims.Subject)
			assert.Equal(tc.grant.Kind, claims.Kind)
			assert.Equal(Issuer, claims.Issuer)
		})
	}
}

func Test_Generate_expiry(t *testing.T) {
	assert := assert.New(t)

	before := time.Now()
	_, exp, err := Generate(testSecret, Grant{Kind: State, Subject: "google", Lifetime: 10 * time.Minute, Redirect: "/dash"})

	assert.NoError(err)
	assert.WithinDuration(before.Add(10*time.Minute), exp, 2*time.Second)
}

func Test_Validate_carriesRedirect(t *testing.T) {
	assert := assert.New(t)

	tok, _, err := Generate(testSecret, Grant{Kind: State, Subject: "google", Redirect: "https://app.example.com/dash"})
	if !assert.NoError(err) {
		return
	}

	claims, err := Validate(context.Background(), tok, testSecret, func(ctx context.Context, kind Kind, subject string) ([]byte, error) {
		return nil, nil
	}, State)

	assert.NoError(err)
	assert.Equal("https://app.example.com/dash", claims.Redirect)
}

func Test_Validate_rejectsOtherAlgorithms(t *testing.T) {
	assert := assert.New(t)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Kind: User,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if !assert.NoError(err) {
		return
	}

	_, err = Validate(context.Background(), tok, testSecret, keysFor(map[string][]byte{"user/u1": nil}), User)

	assert.ErrorIs(err, grantdesk.ErrBadCredentials)
}

func Test_Get(t *testing.T) {
	testCases := []struct {
		name      string
		header    string
		expect    string
		expectErr bool
	}{
		{name: "bearer token", header: "Bearer abc.def.ghi", expect: "abc.def.ghi"},
		{name: "scheme is case-insensitive", header: "bearer   abc", expect: "abc"},
		{name: "no header", header: "", expectErr: true},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", expectErr: true},
		{name: "no token", header: "Bearer", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			req, _ := http.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			actual, err := Get(req)

			if tc.expectErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.expect, actual)
		})
	}
}
