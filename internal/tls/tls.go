// Package tls builds the server-side TLS configuration for the HTTP API.
// Certificates are read on every handshake so a rotated pair on disk takes
// effect without a restart.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/okonev/vigil/internal/config"
)

// Setup returns a *tls.Config for the API listener, or nil when TLS is
// disabled. With AutoGenerate set, a self-signed pair is written to the
// configured paths when neither file exists yet.
func Setup(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("tls enabled but cert_file/key_file not set")
	}

	if cfg.AutoGenerate && !certificatesExist(cfg.CertFile, cfg.KeyFile) {
		if err := os.MkdirAll(filepath.Dir(cfg.CertFile), 0o750); err != nil {
			return nil, fmt.Errorf("create certificate directory: %w", err)
		}
		err := GenerateSelfSigned(CertSpec{
			CommonName:   "localhost",
			Organization: "vigil",
			DNSNames:     []string{"localhost"},
			IPAddresses:  []string{"127.0.0.1"},
			NotAfter:     time.Now().AddDate(1, 0, 0),
			CertPath:     cfg.CertFile,
			KeyPath:      cfg.KeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}

	return &tls.Config{
		GetCertificate: certificateFunc(cfg.CertFile, cfg.KeyFile),
		MinVersion:     tls.VersionTLS12,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// certificateFunc loads the pair from disk per handshake. Reads are confined
// to the certificate's directory.
func certificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}
