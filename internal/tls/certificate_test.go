package tls

import (
	stdtls "crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "certs", "cert.pem")
	keyFile := filepath.Join(dir, "certs", "key.pem")

	require.NoError(t, EnsureCertificate(certFile, keyFile, nil))
	_, err := stdtls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Existing files are kept.
	before, err := os.ReadFile(certFile)
	require.NoError(t, err)
	require.NoError(t, EnsureCertificate(certFile, keyFile, nil))
	after, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
