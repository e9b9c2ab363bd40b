package quicchannel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPNProtocol is the Application-Layer Protocol Negotiation identifier for
// the Portover migration data plane.
const ALPNProtocol = "portover-quic-v1"

// serverTLSConfig returns a TLS configuration for the target's QUIC listener.
// Uses a self-signed certificate; the pairing code authenticates the peer,
// not the certificate.
func serverTLSConfig() *tls.Config {
	cert, err := generateSelfSignedCert()
	if err != nil {
		panic("failed to generate self-signed certificate: " + err.Error())
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
	}
}

// clientTLSConfig returns a TLS configuration for the source's QUIC dial.
func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}
}

// defaultQUICConfig tunes the connection for a long-lived bulk transfer.
func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 60 * time.Second,
		InitialConnectionReceiveWindow: 32 * 1024 * 1024,
		MaxConnectionReceiveWindow:     32 * 1024 * 1024,
		InitialStreamReceiveWindow:     8 * 1024 * 1024,
		MaxStreamReceiveWindow:         8 * 1024 * 1024,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Portover"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

const (
	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024

	defaultUDPBuffer = 8 * 1024 * 1024
)

// tuneUDPBuffers grows the socket buffers beyond the OS defaults. Best
// effort: a denied setsockopt still leaves a working transfer, only slower.
func tuneUDPBuffers(conn *net.UDPConn, logger *slog.Logger) {
	size := clampUDPBuffer(defaultUDPBuffer)
	if err := conn.SetReadBuffer(size); err != nil {
		logger.Debug("UDP read buffer tune denied", "size", size, "error", err)
	}
	if err := conn.SetWriteBuffer(size); err != nil {
		logger.Debug("UDP write buffer tune denied", "size", size, "error", err)
	}
}

func clampUDPBuffer(n int) int {
	if n < minUDPBuffer {
		return minUDPBuffer
	}
	if n > maxUDPBuffer {
		return maxUDPBuffer
	}
	return n
}

// Listen creates the target's QUIC listener on addr.
func Listen(addr string, logger *slog.Logger) (*quic.Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	tuneUDPBuffers(udpConn, logger)

	listener, err := quic.Listen(udpConn, serverTLSConfig(), defaultQUICConfig())
	if err != nil {
		logger.Error("QUIC listen failed", "error", err, "addr", addr)
		udpConn.Close()
		return nil, err
	}

	logger.Info("QUIC listener created", "local_addr", listener.Addr())
	return listener, nil
}

// Dial establishes the source's QUIC connection to the target.
func Dial(ctx context.Context, targetAddr string, logger *slog.Logger) (*quic.Conn, error) {
	remoteAddr, err := net.ResolveUDPAddr("udp", targetAddr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	tuneUDPBuffers(udpConn, logger)

	conn, err := quic.Dial(ctx, udpConn, remoteAddr, clientTLSConfig(), defaultQUICConfig())
	if err != nil {
		logger.Error("QUIC dial failed", "error", err, "remote_addr", remoteAddr)
		udpConn.Close()
		return nil, err
	}

	logger.Info("QUIC connection established", "remote_addr", remoteAddr)
	return conn, nil
}
