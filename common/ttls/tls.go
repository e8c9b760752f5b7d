// Package ttls builds the *crypto/tls.Config the TLS stream driver variant
// uses, including the SNI/peer-name guard that rejects unpermitted peers
// during the handshake rather than after a session is created. Adapted
// from mbp/common/ttls.
package ttls

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"synrelay/common/util"
)

// DriverMode mirrors spec.md §4.2's driver_mode enumeration.
type DriverMode int

const (
	ModePlaintext DriverMode = iota
	ModeTLSAnon
	ModeTLSX509
)

// AuthMode mirrors spec.md §4.2's auth_mode enumeration.
type AuthMode string

const (
	AuthAnon        AuthMode = "anon"
	AuthName        AuthMode = "name"
	AuthFingerprint AuthMode = "fingerprint"
)

// LoadTLSConfig builds a server tls.Config from a cert/key (file path or
// inline PEM) and an optional comma-separated SNI guard list. mode governs
// whether client certificates are requested at all: ModeTLSAnon never asks
// for one; ModeTLSX509 requests (but does not require — ACL enforcement
// happens one layer up, in core/acl) a client certificate so auth_mode
// "name"/"fingerprint" have something to check.
func LoadTLSConfig(cert, key, sniGuard string, mode DriverMode) (*tls.Config, error) {
	cert = strings.TrimSpace(cert)
	key = strings.TrimSpace(key)
	if cert == "" || key == "" {
		return nil, errors.New("empty cert/key")
	}

	certPEM, err := util.ReadPEMorFile(cert)
	if err != nil {
		return nil, fmt.Errorf("read cert: %w", err)
	}
	keyPEM, err := util.ReadPEMorFile(key)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	kp, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse keypair: %w", err)
	}
	if kp.Leaf == nil && len(kp.Certificate) > 0 {
		if leaf, e := x509.ParseCertificate(kp.Certificate[0]); e == nil {
			kp.Leaf = leaf
		}
	}

	guardList := util.ParseGuardList(sniGuard)

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{kp},
		VerifyConnection: func(cs tls.ConnectionState) error {
			if len(guardList) == 0 {
				return nil
			}
			sni := strings.ToLower(strings.TrimSpace(cs.ServerName))
			if sni == "" {
				return errors.New("sni required")
			}
			if !util.MatchAnyHostPattern(sni, guardList) {
				return fmt.Errorf("sni not allowed: %s", sni)
			}
			leaf := kp.Leaf
			if leaf == nil && len(kp.Certificate) > 0 {
				if l, e := x509.ParseCertificate(kp.Certificate[0]); e == nil {
					leaf = l
				}
			}
			if leaf != nil {
				if err := leaf.VerifyHostname(sni); err != nil {
					return fmt.Errorf("sni not covered by certificate: %w", err)
				}
			}
			return nil
		},
	}

	if mode == ModeTLSX509 {
		cfg.ClientAuth = tls.RequestClientCert
	}

	return cfg, nil
}

// VerifiedPeerName extracts the identity the ACL matches against, per
// auth_mode: "name" uses the client certificate's first DNS SAN (falling
// back to CommonName), "fingerprint" uses the hex SHA-256 of the leaf DER,
// and "anon" (or no client certificate presented) yields "".
func VerifiedPeerName(cs *tls.ConnectionState, mode AuthMode) string {
	if cs == nil || len(cs.PeerCertificates) == 0 {
		return ""
	}
	leaf := cs.PeerCertificates[0]
	switch mode {
	case AuthName:
		if len(leaf.DNSNames) > 0 {
			return strings.ToLower(leaf.DNSNames[0])
		}
		return strings.ToLower(leaf.Subject.CommonName)
	case AuthFingerprint:
		return fingerprintHex(leaf.Raw)
	default:
		return ""
	}
}

func fingerprintHex(der []byte) string {
	sum := sha256.Sum256(der)
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
