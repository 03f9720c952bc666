package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetauth/internal/store"
	pkgoauth "assetauth/pkg/oauth"
)

// testCertificate creates a key pair and a self-signed certificate in PEM.
func testCertificate(t *testing.T) (*rsa.PrivateKey, []byte, []byte, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "assetauth-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return key, keyPEM, certPEM, der
}

func TestLoadCertificate(t *testing.T) {
	_, keyPEM, certPEM, der := testCertificate(t)

	cert, err := LoadCertificate(keyPEM, certPEM)
	require.NoError(t, err)

	sum := sha1.Sum(der) //nolint:gosec
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), cert.Thumbprint)

	_, err = LoadCertificate([]byte("nope"), certPEM)
	assert.Error(t, err)
	_, err = LoadCertificate(keyPEM, []byte("nope"))
	assert.Error(t, err)
}

func TestLoadCertificateFiles(t *testing.T) {
	_, keyPEM, certPEM, _ := testCertificate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key.pem"), keyPEM, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cert.pem"), certPEM, 0600))

	cert, err := LoadCertificateFiles(filepath.Join(dir, "key.pem"), filepath.Join(dir, "cert.pem"))
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Thumbprint)

	_, err = LoadCertificateFiles(filepath.Join(dir, "missing.pem"), filepath.Join(dir, "cert.pem"))
	assert.Error(t, err)
}

func TestNormalizeThumbprint(t *testing.T) {
	raw := make([]byte, sha1.Size)
	for i := range raw {
		raw[i] = byte(i * 7)
	}
	want := base64.RawURLEncoding.EncodeToString(raw)
	hexUpper := strings.ToUpper(hex.EncodeToString(raw))

	colon := make([]string, 0, len(raw))
	for _, b := range raw {
		colon = append(colon, hex.EncodeToString([]byte{b}))
	}

	tests := map[string]string{
		"hex":             hex.EncodeToString(raw),
		"upper hex":       hexUpper,
		"colon separated": strings.Join(colon, ":"),
		"base64url":       want,
		"padded":          want + "=",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := NormalizeThumbprint(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	for _, bad := range []string{"", "abc", "zz" + hexUpper[2:]} {
		_, err := NormalizeThumbprint(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestCertificateClient_FetchTokenWithCertificate(t *testing.T) {
	key, keyPEM, certPEM, _ := testCertificate(t)
	cert, err := LoadCertificate(keyPEM, certPEM)
	require.NoError(t, err)

	srv := newTokenServer(t, respondToken("cert-token", 3600, ""))
	cfg := testConfig(srv.URL)
	now := time.Now().Truncate(time.Second)

	client, err := NewCertificateClient(cfg, "a", store.NewMemoryBackend().ForAsset("a"), cert,
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	tok, err := client.FetchTokenWithCertificate(context.Background(), url.Values{"resource": {"api"}})
	require.NoError(t, err)
	assert.Equal(t, "cert-token", tok.AccessToken)

	form := srv.lastForm(t)
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, pkgoauth.ClientAssertionTypeJWTBearer, form.Get("client_assertion_type"))
	assert.Empty(t, form.Get("client_secret"), "certificate grant must not send the secret")
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "api", form.Get("resource"))

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(form.Get("client_assertion"), &claims, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, cert.Thumbprint, parsed.Header["x5t"])
	assert.Equal(t, "cid", claims.Issuer)
	assert.Equal(t, "cid", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{srv.URL}, claims.Audience)
	assert.Equal(t, now.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Unix(), claims.NotBefore.Unix())
	assert.Equal(t, now.Add(AssertionLifetime).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	stored, err := client.GetStoredToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cert-token", stored.AccessToken)
}

func TestCertificateClient_UniqueJTI(t *testing.T) {
	_, keyPEM, certPEM, _ := testCertificate(t)
	cert, err := LoadCertificate(keyPEM, certPEM)
	require.NoError(t, err)

	client, err := NewCertificateClient(testConfig("https://idp/token"), "a", store.NewMemoryBackend().ForAsset("a"), cert)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		signed, err := client.buildAssertion(time.Now())
		require.NoError(t, err)

		var claims jwt.RegisteredClaims
		_, _, err = jwt.NewParser().ParseUnverified(signed, &claims)
		require.NoError(t, err)
		assert.False(t, seen[claims.ID])
		seen[claims.ID] = true
	}
}

func TestCertificateClient_ErrorContract(t *testing.T) {
	_, keyPEM, certPEM, _ := testCertificate(t)
	cert, err := LoadCertificate(keyPEM, certPEM)
	require.NoError(t, err)

	srv := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_client", "error_description": "bad assertion"})
	})
	client, err := NewCertificateClient(testConfig(srv.URL), "a", store.NewMemoryBackend().ForAsset("a"), cert)
	require.NoError(t, err)

	_, err = client.FetchTokenWithCertificate(context.Background(), nil)
	require.ErrorIs(t, err, pkgoauth.ErrExchangeFailed)
	assert.Contains(t, err.Error(), "invalid_client: bad assertion")
}

func TestNewCertificateClient_Misconfigured(t *testing.T) {
	docs := store.NewMemoryBackend().ForAsset("a")

	_, err := NewCertificateClient(testConfig("https://idp/token"), "a", docs, nil)
	assert.ErrorIs(t, err, pkgoauth.ErrMisconfigured)

	key, _, _, _ := testCertificate(t)
	_, err = NewCertificateClient(testConfig("https://idp/token"), "a", docs, &Certificate{PrivateKey: key, Thumbprint: "junk"})
	assert.ErrorIs(t, err, pkgoauth.ErrMisconfigured)

	// A hex thumbprint supplied directly is normalized.
	c, err := NewCertificateClient(testConfig("https://idp/token"), "a", docs,
		&Certificate{PrivateKey: key, Thumbprint: strings.Repeat("ab", sha1.Size)})
	require.NoError(t, err)
	assert.Len(t, c.cert.Thumbprint, 27)
}
