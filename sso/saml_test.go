package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goAccess"
	"github.com/crewjam/saml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIDPMetadata = `<EntityDescriptor xmlns="urn:oasis:names:tc:SAML:2.0:metadata" entityID="https://idp.example.com/metadata">
  <IDPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="https://idp.example.com/sso"/>
  </IDPSSODescriptor>
</EntityDescriptor>`

func testKeyPairPEM(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "goaccess-sp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return string(certPEM), string(keyPEM)
}

func newTestSAML(t *testing.T, states *StateStore) *SAML {
	t.Helper()
	certPEM, keyPEM := testKeyPairPEM(t)
	s, err := NewSAML(context.Background(), SAMLConfig{
		RootURL:        "https://app.example.com",
		CertificatePEM: certPEM,
		PrivateKeyPEM:  keyPEM,
		IDPMetadataXML: testIDPMetadata,
	}, states)
	require.NoError(t, err)
	return s
}

func TestSAMLStartRedirectsToIDP(t *testing.T) {
	states := NewStateStore(0, 0)
	s := newTestSAML(t, states)

	raw, err := s.Start("/reports")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/sso", u.Path)
	assert.NotEmpty(t, u.Query().Get("SAMLRequest"))

	p, err := states.Consume(u.Query().Get("RelayState"))
	require.NoError(t, err)
	assert.Equal(t, "/reports", p.Target)
	assert.NotEmpty(t, p.RequestID)
}

func TestSAMLMetadataUsesGoAccessPaths(t *testing.T) {
	s := newTestSAML(t, nil)

	md := s.Metadata()
	require.NotNil(t, md)
	require.NotEmpty(t, md.SPSSODescriptors)
	acs := md.SPSSODescriptors[0].AssertionConsumerServices
	require.NotEmpty(t, acs)
	assert.Equal(t, "https://app.example.com"+ACSPath, acs[0].Location)
}

func TestSAMLACSRejectsUnknownRelayState(t *testing.T) {
	s := newTestSAML(t, nil)

	form := url.Values{"RelayState": {"forged"}, "SAMLResponse": {"PHJlc3BvbnNlLz4="}}
	req := httptest.NewRequest(http.MethodPost, ACSPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, _, err := s.ACS(req)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSAMLACSRejectsGarbageResponse(t *testing.T) {
	states := NewStateStore(0, 0)
	s := newTestSAML(t, states)
	relay, err := states.Issue(Pending{RequestID: "id-unknown"})
	require.NoError(t, err)

	form := url.Values{"RelayState": {relay}, "SAMLResponse": {"bm90IHhtbA=="}}
	req := httptest.NewRequest(http.MethodPost, ACSPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, _, err = s.ACS(req)
	assert.ErrorIs(t, err, goAccess.ErrInvalidCredentials)
}

func TestNewSAMLRejectsBadConfig(t *testing.T) {
	certPEM, keyPEM := testKeyPairPEM(t)
	ctx := context.Background()

	_, err := NewSAML(ctx, SAMLConfig{RootURL: "/relative", CertificatePEM: certPEM, PrivateKeyPEM: keyPEM, IDPMetadataXML: testIDPMetadata}, nil)
	assert.Error(t, err)
	_, err = NewSAML(ctx, SAMLConfig{RootURL: "https://app.example.com", CertificatePEM: "nope", PrivateKeyPEM: keyPEM, IDPMetadataXML: testIDPMetadata}, nil)
	assert.Error(t, err)
	_, err = NewSAML(ctx, SAMLConfig{RootURL: "https://app.example.com", CertificatePEM: certPEM, PrivateKeyPEM: keyPEM}, nil)
	assert.Error(t, err)
}

func TestProfileFromAssertion(t *testing.T) {
	attr := func(name, friendly, value string) saml.Attribute {
		return saml.Attribute{Name: name, FriendlyName: friendly, Values: []saml.AttributeValue{{Value: value}}}
	}
	withAttrs := func(attrs ...saml.Attribute) *saml.Assertion {
		return &saml.Assertion{AttributeStatements: []saml.AttributeStatement{{Attributes: attrs}}}
	}

	p, err := ProfileFromAssertion(withAttrs(attr(ClaimEmailAddress, "", "Erin@Example.com")), "")
	require.NoError(t, err)
	assert.Equal(t, "erin@example.com", p.Email)
	assert.Equal(t, goAccess.ProviderSAML, p.AuthProvider)

	p, err = ProfileFromAssertion(withAttrs(attr("urn:oid:0.9.2342.19200300.100.1.3", "mail", "frank@example.com")), "")
	require.NoError(t, err)
	assert.Equal(t, "frank@example.com", p.Email)

	p, err = ProfileFromAssertion(withAttrs(attr("upn", "", "gina@corp.example"), attr("email", "", "other@example.com")), "upn")
	require.NoError(t, err)
	assert.Equal(t, "gina@corp.example", p.Email)

	nameOnly := &saml.Assertion{Subject: &saml.Subject{NameID: &saml.NameID{Value: "hank@example.com"}}}
	p, err = ProfileFromAssertion(nameOnly, "")
	require.NoError(t, err)
	assert.Equal(t, "hank@example.com", p.Email)

	opaque := &saml.Assertion{Subject: &saml.Subject{NameID: &saml.NameID{Value: "a1b2c3"}}}
	_, err = ProfileFromAssertion(opaque, "")
	assert.ErrorIs(t, err, ErrMissingEmail)

	_, err = ProfileFromAssertion(nil, "")
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestParseKeyPairAcceptsPKCS8(t *testing.T) {
	certPEM, _ := testKeyPairPEM(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	cert, signer, err := ParseKeyPair([]byte(certPEM), keyPEM)
	require.NoError(t, err)
	assert.Equal(t, "goaccess-sp", cert.Subject.CommonName)
	assert.NotNil(t, signer)
}
