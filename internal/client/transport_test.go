package client

import (
	"bufio"
	"compress/flate"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"
)

// generateTestTLSConfigs creates a self-signed certificate and returns a
// server TLS config and an InsecureSkipVerify client TLS config for tests.
func generateTestTLSConfigs(t *testing.T) (serverCfg, clientCfg *tls.Config) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	cert := tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: priv}
	serverCfg = &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test only
	return serverCfg, clientCfg
}

func TestUpgradeTLSHandshake(t *testing.T) {
	serverTLS, clientTLS := generateTestTLSConfigs(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		tconn := tls.Server(conn, serverTLS)
		errCh <- tconn.Handshake()
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	tconn, err := upgradeTLS(raw, clientTLS)
	if err != nil {
		t.Fatalf("upgradeTLS: %v", err)
	}
	defer tconn.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

func TestFlateConnRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server, err := ln.Accept()
		if err != nil {
			return
		}
		defer server.Close()

		zr := flate.NewReader(server)
		r := bufio.NewReader(zr)
		line, err := r.ReadString('\n')
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if strings.TrimSpace(line) != "A1 NOOP" {
			t.Errorf("server got %q", line)
			return
		}
		zw := flate.NewWriter(server, flate.DefaultCompression)
		fmt.Fprintf(zw, "* OK still here\r\n")
		zw.Flush()
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	fc := newFlateConn(client)
	if _, err := fc.Write([]byte("A1 NOOP\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 64)
	n, err := fc.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "still here") {
		t.Errorf("got %q", buf[:n])
	}
	<-done
}
