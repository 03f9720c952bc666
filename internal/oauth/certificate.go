package oauth

import (
	"context"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // x5t is defined as the SHA-1 thumbprint
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"assetauth/internal/store"
	"assetauth/pkg/logging"
	pkgoauth "assetauth/pkg/oauth"
)

// AssertionLifetime is the validity of a client assertion.
const AssertionLifetime = 5 * time.Minute

// Certificate is the signing material of the certificate grant. The
// thumbprint is the base64url SHA-1 thumbprint of the certificate.
type Certificate struct {
	PrivateKey *rsa.PrivateKey
	Thumbprint string
}

// LoadCertificate parses a PEM RSA private key (PKCS#1 or PKCS#8) and a PEM
// certificate and derives the thumbprint from the certificate.
func LoadCertificate(keyPEM, certPEM []byte) (*Certificate, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	sum := sha1.Sum(cert.Raw) //nolint:gosec
	return &Certificate{
		PrivateKey: key,
		Thumbprint: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// LoadCertificateFiles reads the key and certificate from disk.
func LoadCertificateFiles(keyFile, certFile string) (*Certificate, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	return LoadCertificate(keyPEM, certPEM)
}

// NormalizeThumbprint accepts a hex SHA-1 thumbprint (optionally colon
// separated, as printed by most tooling) or an already encoded base64url
// value, and returns the base64url form used in the x5t header.
func NormalizeThumbprint(thumbprint string) (string, error) {
	t := strings.TrimSpace(thumbprint)
	if t == "" {
		return "", fmt.Errorf("thumbprint is empty")
	}

	if h := strings.ReplaceAll(t, ":", ""); len(h) == sha1.Size*2 {
		if raw, err := hex.DecodeString(h); err == nil {
			return base64.RawURLEncoding.EncodeToString(raw), nil
		}
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(t, "="))
	if err != nil || len(raw) != sha1.Size {
		return "", fmt.Errorf("thumbprint is neither hex nor base64url SHA-1")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// CertificateClient adds the certificate-signed JWT bearer grant to Client.
type CertificateClient struct {
	*Client
	cert *Certificate
}

// NewCertificateClient creates a client that authenticates with cert instead
// of a client secret.
func NewCertificateClient(cfg pkgoauth.Config, assetID string, docs store.AssetStore, cert *Certificate, opts ...ClientOption) (*CertificateClient, error) {
	if cert == nil || cert.PrivateKey == nil {
		return nil, pkgoauth.NewClientError("create certificate client", pkgoauth.ErrMisconfigured, "private key is required", nil)
	}
	thumbprint, err := NormalizeThumbprint(cert.Thumbprint)
	if err != nil {
		return nil, pkgoauth.NewClientError("create certificate client", pkgoauth.ErrMisconfigured, "invalid certificate thumbprint", err)
	}

	client, err := NewClient(cfg, assetID, docs, opts...)
	if err != nil {
		return nil, err
	}
	return &CertificateClient{
		Client: client,
		cert:   &Certificate{PrivateKey: cert.PrivateKey, Thumbprint: thumbprint},
	}, nil
}

// FetchTokenWithCertificate runs the client_credentials grant authenticated
// by a signed client assertion and persists the result. No client secret is
// sent.
func (c *CertificateClient) FetchTokenWithCertificate(ctx context.Context, extra url.Values) (*pkgoauth.Token, error) {
	const op = "fetch certificate token"

	assertion, err := c.buildAssertion(c.now())
	if err != nil {
		return nil, pkgoauth.NewClientError(op, pkgoauth.ErrSigning, "", err)
	}

	if err := c.purgeOnDrift(ctx); err != nil {
		return nil, err
	}

	form := c.tokenForm(pkgoauth.GrantClientCredentials, false, url.Values{
		"client_assertion_type": {pkgoauth.ClientAssertionTypeJWTBearer},
		"client_assertion":      {assertion},
	}, extra)

	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return nil, asClientError(op, err)
	}

	if err := c.storeToken(ctx, tok, ""); err != nil {
		return nil, err
	}
	logging.Info("OAuth", "Fetched certificate token for asset %s", c.assetID)
	return tok, nil
}

func (c *CertificateClient) buildAssertion(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    c.config.ClientID,
		Subject:   c.config.ClientID,
		Audience:  jwt.ClaimStrings{c.config.TokenEndpoint},
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(AssertionLifetime)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["x5t"] = c.cert.Thumbprint

	signed, err := token.SignedString(c.cert.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}
