package sso

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goAccess"
	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
)

const (
	// ACSPath receives the IdP response.
	ACSPath = "/sso/saml/acs"
	// MetadataPath serves the service provider metadata.
	MetadataPath = "/sso/saml/metadata"

	// ClaimEmailAddress is the WS-Federation email attribute most IdPs
	// release by default.
	ClaimEmailAddress = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"

	metadataFetchTimeout = 30 * time.Second
)

// SAMLConfig configures a SAML 2.0 service provider.
type SAMLConfig struct {
	// RootURL is the externally visible base URL of this service.
	RootURL  string `mapstructure:"root_url"`
	EntityID string `mapstructure:"entity_id"`
	// CertificatePEM and PrivateKeyPEM hold the SP signing pair.
	CertificatePEM string `mapstructure:"certificate"`
	PrivateKeyPEM  string `mapstructure:"private_key"`
	// IDPMetadataURL is fetched at startup unless IDPMetadataXML is set.
	IDPMetadataURL string `mapstructure:"idp_metadata_url"`
	IDPMetadataXML string `mapstructure:"idp_metadata_xml"`
	// EmailAttribute overrides the attribute consulted first for the email.
	EmailAttribute string `mapstructure:"email_attribute"`
}

// SAML runs SP initiated SSO against one IdP.
type SAML struct {
	sp             *saml.ServiceProvider
	states         *StateStore
	emailAttribute string
}

// NewSAML loads the key pair and IdP metadata and builds the service
// provider. states may be shared with an OIDC provider; nil creates a
// private store.
func NewSAML(ctx context.Context, cfg SAMLConfig, states *StateStore) (*SAML, error) {
	root, err := url.Parse(strings.TrimSpace(cfg.RootURL))
	if err != nil || root.Scheme == "" || root.Host == "" {
		return nil, fmt.Errorf("sso: saml root_url %q is not an absolute url", cfg.RootURL)
	}
	cert, key, err := ParseKeyPair([]byte(cfg.CertificatePEM), []byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, err
	}

	var idp *saml.EntityDescriptor
	switch {
	case cfg.IDPMetadataXML != "":
		idp, err = samlsp.ParseMetadata([]byte(cfg.IDPMetadataXML))
	case cfg.IDPMetadataURL != "":
		var metadataURL *url.URL
		if metadataURL, err = url.Parse(cfg.IDPMetadataURL); err != nil {
			return nil, fmt.Errorf("sso: saml idp_metadata_url: %w", err)
		}
		client := &http.Client{Timeout: metadataFetchTimeout}
		idp, err = samlsp.FetchMetadata(ctx, client, *metadataURL)
	default:
		return nil, errors.New("sso: saml idp_metadata_url or idp_metadata_xml is required")
	}
	if err != nil {
		return nil, fmt.Errorf("sso: load idp metadata: %w", err)
	}

	m, err := samlsp.New(samlsp.Options{
		URL:         *root,
		EntityID:    cfg.EntityID,
		Key:         key,
		Certificate: cert,
		IDPMetadata: idp,
	})
	if err != nil {
		return nil, fmt.Errorf("sso: build service provider: %w", err)
	}
	sp := &m.ServiceProvider
	sp.AcsURL = *root.ResolveReference(&url.URL{Path: ACSPath})
	sp.MetadataURL = *root.ResolveReference(&url.URL{Path: MetadataPath})

	if states == nil {
		states = NewStateStore(0, 0)
	}
	return &SAML{sp: sp, states: states, emailAttribute: cfg.EmailAttribute}, nil
}

// ParseKeyPair decodes a PEM certificate and a PKCS#8 or PKCS#1 private key.
func ParseKeyPair(certPEM, keyPEM []byte) (*x509.Certificate, crypto.Signer, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, errors.New("sso: saml certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("sso: parse saml certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, errors.New("sso: saml private key is not PEM")
	}
	var parsed any
	if parsed, err = x509.ParsePKCS8PrivateKey(keyBlock.Bytes); err != nil {
		if parsed, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes); err != nil {
			return nil, nil, fmt.Errorf("sso: parse saml private key: %w", err)
		}
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, nil, errors.New("sso: saml private key cannot sign")
	}
	return cert, signer, nil
}

// Start builds an AuthnRequest and returns the IdP redirect URL. The relay
// state carries the request id and target through the round trip.
func (s *SAML) Start(target string) (string, error) {
	location := s.sp.GetSSOBindingLocation(saml.HTTPRedirectBinding)
	if location == "" {
		return "", errors.New("sso: idp metadata has no redirect binding")
	}
	req, err := s.sp.MakeAuthenticationRequest(location, saml.HTTPRedirectBinding, saml.HTTPPostBinding)
	if err != nil {
		return "", fmt.Errorf("sso: build authn request: %w", err)
	}
	relay, err := s.states.Issue(Pending{Target: target, RequestID: req.ID})
	if err != nil {
		return "", fmt.Errorf("sso: issue relay state: %w", err)
	}
	redirect, err := req.Redirect(relay, s.sp)
	if err != nil {
		return "", fmt.Errorf("sso: sign authn request: %w", err)
	}
	return redirect.String(), nil
}

// ACS validates the POSTed response against the request it answers. IdP
// initiated responses carry no known relay state and are rejected.
func (s *SAML) ACS(r *http.Request) (goAccess.User, string, error) {
	if err := r.ParseForm(); err != nil {
		return goAccess.User{}, "", fmt.Errorf("%w: %v", goAccess.ErrInvalidCredentials, err)
	}
	pending, err := s.states.Consume(r.PostForm.Get("RelayState"))
	if err != nil {
		return goAccess.User{}, "", err
	}
	assertion, err := s.sp.ParseResponse(r, []string{pending.RequestID})
	if err != nil {
		var invalid *saml.InvalidResponseError
		if errors.As(err, &invalid) && invalid.PrivateErr != nil {
			err = invalid.PrivateErr
		}
		return goAccess.User{}, "", fmt.Errorf("%w: saml response: %v", goAccess.ErrInvalidCredentials, err)
	}
	profile, err := ProfileFromAssertion(assertion, s.emailAttribute)
	if err != nil {
		return goAccess.User{}, "", err
	}
	return profile, pending.Target, nil
}

// Metadata returns the service provider descriptor for the IdP.
func (s *SAML) Metadata() *saml.EntityDescriptor {
	return s.sp.Metadata()
}

// ProfileFromAssertion maps a validated assertion to an external profile.
// Attributes are searched by name and friendly name; the NameID is used
// when it looks like an email address.
func ProfileFromAssertion(a *saml.Assertion, emailAttribute string) (goAccess.User, error) {
	if a == nil {
		return goAccess.User{}, ErrMissingEmail
	}
	candidates := []string{ClaimEmailAddress, "email", "mail", "emailaddress"}
	if emailAttribute != "" {
		candidates = append([]string{emailAttribute}, candidates...)
	}

	email := ""
	for _, want := range candidates {
		if email = attributeValue(a, want); email != "" {
			break
		}
	}
	if email == "" && a.Subject != nil && a.Subject.NameID != nil && strings.Contains(a.Subject.NameID.Value, "@") {
		email = a.Subject.NameID.Value
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return goAccess.User{}, ErrMissingEmail
	}
	return goAccess.User{
		Email:        email,
		AuthProvider: goAccess.ProviderSAML,
		Active:       true,
		Verified:     true,
	}, nil
}

func attributeValue(a *saml.Assertion, name string) string {
	for _, stmt := range a.AttributeStatements {
		for _, attr := range stmt.Attributes {
			if !strings.EqualFold(attr.Name, name) && !strings.EqualFold(attr.FriendlyName, name) {
				continue
			}
			for _, v := range attr.Values {
				if strings.TrimSpace(v.Value) != "" {
					return v.Value
				}
			}
		}
	}
	return ""
}
