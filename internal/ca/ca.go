// Package ca mints and caches TLS leaf certificates signed by a locally
// generated root, the way caddytls generates self-signed certificates
// (caddytls/selfsigned.go), generalized from a one-shot helper into a
// long-lived authority that serves concurrent per-host requests the way
// ca/src/lib.rs's build_certs serves them from a shelled-out script.
//
// Unlike the original, no subprocess and no PATH mutation is involved:
// key and certificate generation happen in-process with crypto/x509.
package ca

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smallstep/truststore"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tlsgate/tlsgate/internal/tglog"
)

// Sentinel errors, mirroring the CaError taxonomy of the original: fetch
// failures, generation failures, and I/O are distinguished so callers can
// decide whether to retry or fail the connection outright.
var (
	ErrKeyFetch           = errors.New("ca: error fetching private key")
	ErrGenerateCertificate = errors.New("ca: error generating certificate")
)

// Error wraps a lower-level failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("ca: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

const (
	rootCertFile = "root.crt"
	rootKeyFile  = "root.key"
	leafTTL      = 7 * 24 * time.Hour
)

// Authority mints and caches per-host leaf certificates under a single
// locally-trusted root. The leaf cache is keyed by host only, per the
// data model: no port, no expiry tracked at runtime (see DESIGN.md).
type Authority struct {
	dir string

	rootCert *x509.Certificate
	rootKey  crypto.Signer
	rootPEM  []byte // root.crt in PEM, cached for Trust() and export

	mu     sync.RWMutex
	leaves map[string]*tls.Certificate

	group singleflight.Group

	log *zap.Logger
}

// NewAuthority loads a root certificate/key pair from dir, generating and
// persisting a new one if absent.
func NewAuthority(dir string) (*Authority, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &Error{Op: "mkdir", Err: err}
	}

	a := &Authority{
		dir:    dir,
		leaves: make(map[string]*tls.Certificate),
		log:    tglog.Named("ca"),
	}

	if err := a.ensureRoot(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authority) ensureRoot() error {
	certPath := filepath.Join(a.dir, rootCertFile)
	keyPath := filepath.Join(a.dir, rootKeyFile)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		cert, key, err := decodeRootPair(certPEM, keyPEM)
		switch {
		case err != nil:
			a.log.Warn("discarding unreadable root, regenerating", zap.Error(err))
		case time.Now().After(cert.NotAfter):
			a.log.Warn("root certificate expired, regenerating",
				zap.Time("notAfter", cert.NotAfter))
		case time.Now().Before(cert.NotBefore):
			a.log.Warn("root certificate not yet valid, keeping it anyway",
				zap.Time("notBefore", cert.NotBefore))
			a.rootCert, a.rootKey, a.rootPEM = cert, key, certPEM
			return nil
		default:
			a.rootCert, a.rootKey, a.rootPEM = cert, key, certPEM
			return nil
		}
	}

	cert, key, certPEM, keyPEM, err := generateRoot()
	if err != nil {
		return &Error{Op: "generate-root", Err: err}
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return &Error{Op: "write-root-cert", Err: err}
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return &Error{Op: "write-root-key", Err: err}
	}
	a.rootCert, a.rootKey, a.rootPEM = cert, key, certPEM
	a.log.Info("generated new root certificate authority", zap.String("dir", a.dir))
	return nil
}

// RootPEM returns the PEM-encoded root certificate, for display or export.
func (a *Authority) RootPEM() []byte { return a.rootPEM }

// Trust installs the root certificate into the OS trust store.
func (a *Authority) Trust(ctx context.Context) error {
	certPath := filepath.Join(a.dir, rootCertFile)
	if err := truststore.InstallCertificate(certPath); err != nil {
		return &Error{Op: "trust", Err: err}
	}
	a.log.Info("installed root certificate into system trust store", zap.String("path", certPath))
	return nil
}

// LeafFor returns a cached or freshly minted leaf certificate for host,
// de-duplicating concurrent mint requests for the same host through a
// singleflight group so that N simultaneous connections to the same
// upstream trigger exactly one generator invocation.
func (a *Authority) LeafFor(ctx context.Context, host string) (*tls.Certificate, error) {
	a.mu.RLock()
	if leaf, ok := a.leaves[host]; ok {
		a.mu.RUnlock()
		return leaf, nil
	}
	a.mu.RUnlock()

	v, err, _ := a.group.Do(host, func() (interface{}, error) {
		a.mu.RLock()
		if leaf, ok := a.leaves[host]; ok {
			a.mu.RUnlock()
			return leaf, nil
		}
		a.mu.RUnlock()

		leaf, err := a.mintLeaf(host)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.leaves[host] = leaf
		a.mu.Unlock()
		return leaf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

func (a *Authority) mintLeaf(host string) (*tls.Certificate, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, &Error{Op: "generate-leaf-key", Err: err}
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, &Error{Op: "generate-serial", Err: err}
	}

	notBefore := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"tlsgate Ephemeral"}, CommonName: host},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(leafTTL),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.rootCert, &privKey.PublicKey, a.rootKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateCertificate, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateCertificate, err)
	}

	a.log.Debug("minted leaf certificate", zap.String("host", host))
	return &tls.Certificate{
		Certificate: [][]byte{der, a.rootCert.Raw},
		PrivateKey:  privKey,
		Leaf:        leaf,
	}, nil
}

func generateRoot() (cert *x509.Certificate, key crypto.Signer, certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("generate root key: %w", err)
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("generate root serial: %w", err)
	}

	notBefore := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"tlsgate Local CA"}, CommonName: "tlsgate Root CA"},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create root certificate: %w", err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parse root certificate: %w", err)
	}

	certPEM = pemEncode("CERTIFICATE", der)
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal root key: %w", err)
	}
	keyPEM = pemEncode("EC PRIVATE KEY", keyBytes)

	return parsed, priv, certPEM, keyPEM, nil
}

func decodeRootPair(certPEM, keyPEM []byte) (*x509.Certificate, crypto.Signer, error) {
	certBlock, err := pemDecodeSingle(certPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	cert, err := x509.ParseCertificate(certBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	keyBlock, err := pemDecodeSingle(keyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	key, err := x509.ParseECPrivateKey(keyBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	return cert, key, nil
}
