package main

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	csvmanager "github.com/w4cha/csv-manager"
	"github.com/w4cha/csv-manager/ps"
)

func setupTLSTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	generateTestCertificate(t, certFile, keyFile)

	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance := csvmanager.Open(persistence, csvmanager.WithIdentity(serverIdentity))
	if _, err := instance.CreateTable("people", "INDICE", []string{"name", "city"}, nil); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	server := NewServer(instance, serverIdentity)
	if err := server.StartTLS("127.0.0.1:0", certFile, keyFile); err != nil {
		t.Fatalf("Failed to start TLS server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server, certFile
}

// generateTestCertificate writes a self-signed certificate for 127.0.0.1
// and localhost.
func generateTestCertificate(t *testing.T, certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to encode private key: %v", err)
	}

	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o600); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
}

func dialTLS(t *testing.T, addr string, cfg *tls.Config) *client {
	t.Helper()
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", addr, cfg)
	if err != nil {
		t.Fatalf("Failed to connect with TLS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func TestTLSServerStartStop(t *testing.T) {
	server, _ := setupTLSTestServer(t)

	if server.Addr() == "" {
		t.Error("Expected non-empty address")
	}
	if !server.TLSEnabled() {
		t.Error("Expected TLS to be enabled")
	}
}

func TestTLSServerConnection(t *testing.T) {
	server, certFile := setupTLSTestServer(t)

	certData, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("Failed to read cert: %v", err)
	}
	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(certData) {
		t.Fatal("Failed to load the test certificate")
	}

	c := dialTLS(t, server.Addr(), &tls.Config{RootCAs: certPool, ServerName: "localhost"})
	decode[AppendResponse](t, c.send(Request{Table: "people", Op: OpAppend, Values: []string{"Ana", "Lima"}}))

	qr := decode[QueryResponse](t, c.send(Request{Table: "people", Op: OpSearch, Text: `"NAME" = Ana`}))
	if len(qr.Data) != 1 || qr.Data[0][2] != "Lima" {
		t.Errorf("Expected Ana in Lima, got %v", qr.Data)
	}
}

func TestTLSServerInvalidCert(t *testing.T) {
	server, _ := setupTLSTestServer(t)

	// system roots do not include the self-signed certificate
	_, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", server.Addr(), &tls.Config{ServerName: "localhost"})
	if err == nil {
		t.Error("Expected TLS connection to fail with invalid certificate")
	}
}

func TestTLSServerWithInsecureSkipVerify(t *testing.T) {
	server, _ := setupTLSTestServer(t)

	c := dialTLS(t, server.Addr(), &tls.Config{InsecureSkipVerify: true})
	tr := decode[TablesResponse](t, c.send(Request{Op: OpTables}))
	if len(tr.Tables) != 1 || tr.Tables[0] != "people" {
		t.Errorf("Expected [people], got %v", tr.Tables)
	}
}

func TestTLSServerMissingCertificate(t *testing.T) {
	server := NewServer(nil, serverIdentity)
	dir := t.TempDir()
	err := server.StartTLS("127.0.0.1:0", filepath.Join(dir, "missing.crt"), filepath.Join(dir, "missing.key"))
	if err == nil {
		t.Fatal("Expected StartTLS to fail without a certificate")
	}
	if server.TLSEnabled() {
		t.Error("Expected TLS to stay disabled")
	}
}
