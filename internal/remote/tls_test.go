package remote

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nem-lang/nembind/internal/testrunner/assert"
)

func TestClientTLSVerifiesByDefault(t *testing.T) {
	cfg, err := ClientTLS("", false)
	assert.NoError(t, err)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Nil(t, cfg.RootCAs)

	cfg, err = ClientTLS("", true)
	assert.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestClientTLSTrustsCABundle(t *testing.T) {
	srv, err := GenerateSelfSignedTLS([]string{"localhost"}, time.Hour)
	assert.NoError(t, err)

	der := srv.Certificates[0].Certificate[0]
	ca := filepath.Join(t.TempDir(), "ca.pem")
	assert.NoError(t, os.WriteFile(ca, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))

	cfg, err := ClientTLS(ca, false)
	assert.NoError(t, err)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.RootCAs)

	cert, err := x509.ParseCertificate(der)
	assert.NoError(t, err)

	_, err = cert.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: cfg.RootCAs})
	assert.NoError(t, err)
}

func TestClientTLSRejectsBadBundle(t *testing.T) {
	dir := t.TempDir()

	_, err := ClientTLS(filepath.Join(dir, "missing.pem"), false)
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.pem")
	assert.NoError(t, os.WriteFile(junk, []byte("not a certificate"), 0o644))

	_, err = ClientTLS(junk, false)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "no PEM certificates")
	}
}
