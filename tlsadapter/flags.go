package tlsadapter

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/momentics/netcore/api"
)

// Options configures one Adapter: role, peer identity, and the spec.md
// §6 TLSFlags verification-policy bits translated onto a *tls.Config.
type Options struct {
	Role       Role
	ServerName string
	Flags      api.TLSFlags
	ALPN       []string
	Base       *tls.Config // optional caller-supplied base config (certs, roots)
}

func buildConfig(opt Options) *tls.Config {
	var cfg *tls.Config
	if opt.Base != nil {
		cfg = opt.Base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if opt.ServerName != "" {
		cfg.ServerName = opt.ServerName
	}
	if len(opt.ALPN) > 0 {
		cfg.NextProtos = opt.ALPN
	}

	allowExpiredCert := opt.Flags&api.TLSAllowExpiredCert != 0
	allowInvalidCN := opt.Flags&api.TLSAllowInvalidCN != 0
	allowExpiredRoot := opt.Flags&api.TLSAllowExpiredRoot != 0
	allowAnyRoot := opt.Flags&api.TLSAllowAnyRoot != 0
	allowRevokedCert := opt.Flags&api.TLSAllowRevokedCert != 0
	verifyHostName := opt.Flags&api.TLSVerifyHostName != 0
	_ = allowRevokedCert // Go's crypto/x509 has no CRL/OCSP check in the
	// default verifier to relax; revocation checking is a collaborator
	// concern left to a caller-supplied VerifyConnection if they add one.

	if allowAnyRoot {
		cfg.InsecureSkipVerify = true
		return cfg
	}

	if allowExpiredCert || allowInvalidCN || allowExpiredRoot || !verifyHostName {
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			opts := x509.VerifyOptions{
				Intermediates: x509.NewCertPool(),
				KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
			}
			if allowExpiredCert || allowExpiredRoot {
				// Pin verification time to the leaf's NotBefore so an
				// expired chain still verifies structurally.
				if len(cs.PeerCertificates) > 0 {
					opts.CurrentTime = cs.PeerCertificates[0].NotBefore.Add(time.Hour)
				}
			}
			if !allowAnyRoot && cfg.RootCAs != nil {
				opts.Roots = cfg.RootCAs
			}
			for _, c := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(c)
			}
			if len(cs.PeerCertificates) == 0 {
				return nil
			}
			leaf := cs.PeerCertificates[0]
			if verifyHostName && !allowInvalidCN && opt.ServerName != "" {
				if err := leaf.VerifyHostname(opt.ServerName); err != nil {
					return err
				}
			}
			_, err := leaf.Verify(opts)
			return err
		}
	}
	return cfg
}
