package testing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"socializor-server-go/internal/platform/config"
	"socializor-server-go/internal/platform/logging"
)

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
	keyErr  error
)

// RSAKey returns a 2048 bit key shared by every test in the binary.
func RSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		key, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keyErr != nil {
		t.Fatalf("generate rsa key: %v", keyErr)
	}
	return key
}

// SetupTestConfig returns defaults rewired to a temporary directory: ephemeral
// ports, sqlite in memory and freshly written key and certificate files.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.HTTPPort = 0
	cfg.Server.HTTPSPort = 0
	cfg.Server.GracePeriod = time.Second
	cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile = WriteSelfSignedCert(t, dir)
	cfg.Auth.PrivateKeyFile, cfg.Auth.PublicKeyFile = WriteKeyPair(t, dir)
	cfg.Database.Path = ":memory:"
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = filepath.Join(dir, "logs")
	cfg.Log.File = "test.log"
	return cfg
}

// SetupTestLogger writes to a temporary directory and keeps the console quiet.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	logger, err := logging.New(logging.Config{
		Level:    "DEBUG",
		Dir:      t.TempDir(),
		Filename: "test.log",
		Console:  io.Discard,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// WriteKeyPair stores RSAKey as PKCS#1 private and PKIX public PEM files.
func WriteKeyPair(t *testing.T, dir string) (privatePath, publicPath string) {
	t.Helper()
	k := RSAKey(t)

	pub, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	privatePath = filepath.Join(dir, "private.pem")
	publicPath = filepath.Join(dir, "public.pem")
	writePEM(t, privatePath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(k))
	writePEM(t, publicPath, "PUBLIC KEY", pub)
	return privatePath, publicPath
}

// WriteSelfSignedCert writes a certificate for localhost and 127.0.0.1
// signed by RSAKey.
func WriteSelfSignedCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	k := RSAKey(t)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &k.PublicKey, k)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	writePEM(t, certPath, "CERTIFICATE", der)
	writePEM(t, keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(k))
	return certPath, keyPath
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
