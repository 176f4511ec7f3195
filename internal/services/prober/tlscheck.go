package prober

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// inspectCertificate dials a dedicated TLS connection and reads the leaf
// certificate's expiry. A failed handshake reports an invalid certificate;
// a certificate already past NotAfter does too, even if the handshake was
// allowed through.
func inspectCertificate(ctx context.Context, addr, serverName string, timeout time.Duration) (bool, time.Time, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config: &tls.Config{
			ServerName: serverName,
			MinVersion: tls.VersionTLS12,
		},
	}
	conn, err := dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return false, time.Time{}, err
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return false, time.Time{}, nil
	}
	leaf := state.PeerCertificates[0]
	now := time.Now()
	valid := now.After(leaf.NotBefore) && now.Before(leaf.NotAfter)
	return valid, leaf.NotAfter, nil
}
