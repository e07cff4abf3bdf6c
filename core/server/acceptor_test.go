package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeManager substitutes certman.Manager behind the certManager
// capability: a fixed certificate and a recorded Start context.
type fakeManager struct {
	cert     *tls.Certificate
	startErr error
	startCtx context.Context
}

func (m *fakeManager) Start(ctx context.Context) error {
	m.startCtx = ctx
	return m.startErr
}

func (m *fakeManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.cert == nil {
		return nil, errors.New("no certificate available")
	}
	return m.cert, nil
}

func localhostCert(t *testing.T) *tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}
}

func newLoopbackAcceptor(t *testing.T, manager certManager, opts ...AcmeAcceptorOption) *AcmeAcceptor {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	acceptor, err := NewAcmeAcceptor(context.Background(), ListenerAcceptor{ln}, manager, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = acceptor.Close() })
	return acceptor
}

func TestNewAcmeAcceptorMissingArgs(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = NewAcmeAcceptor(context.Background(), nil, &fakeManager{})
	assert.ErrorIs(t, err, ErrMissingAcceptor)

	_, err = NewAcmeAcceptor(context.Background(), ListenerAcceptor{ln}, nil)
	assert.ErrorIs(t, err, ErrMissingManager)
}

func TestNewAcmeAcceptorStartFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	startErr := errors.New("cache unreadable")
	_, err = NewAcmeAcceptor(context.Background(), ListenerAcceptor{ln}, &fakeManager{startErr: startErr})
	assert.ErrorIs(t, err, startErr)
}

func TestAcceptTerminatesTLS(t *testing.T) {
	manager := &fakeManager{cert: localhostCert(t)}
	acceptor := newLoopbackAcceptor(t, manager)

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := acceptor.Accept()
		accepted <- acceptResult{conn, err}
	}()

	client, err := tls.Dial("tcp", acceptor.Addr().String(), &tls.Config{
		ServerName:         "localhost",
		InsecureSkipVerify: true,
	})
	require.NoError(t, err)
	defer client.Close()

	res := <-accepted
	require.NoError(t, res.err)
	defer res.conn.Close()

	// Handshake already done: the returned connection speaks plaintext
	// application data.
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = res.conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	_, ok := res.conn.(*tls.Conn)
	assert.True(t, ok)
}

func TestAcceptHandshakeFailure(t *testing.T) {
	// No certificate resolvable yet; the handshake must fail without
	// killing the acceptor.
	acceptor := newLoopbackAcceptor(t, &fakeManager{}, WithHandshakeTimeout(5*time.Second))

	accepted := make(chan error, 1)
	go func() {
		_, err := acceptor.Accept()
		accepted <- err
	}()

	conn, err := tls.Dial("tcp", acceptor.Addr().String(), &tls.Config{
		ServerName:         "localhost",
		InsecureSkipVerify: true,
	})
	if err == nil {
		conn.Close()
	}
	require.Error(t, err)

	assert.ErrorIs(t, <-accepted, ErrHandshake)
}

func TestCloseStopsManagerLifetime(t *testing.T) {
	manager := &fakeManager{cert: localhostCert(t)}
	acceptor := newLoopbackAcceptor(t, manager)

	require.NotNil(t, manager.startCtx)
	select {
	case <-manager.startCtx.Done():
		t.Fatal("manager context canceled before Close")
	default:
	}

	require.NoError(t, acceptor.Close())

	select {
	case <-manager.startCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the manager context")
	}

	_, err := acceptor.Accept()
	assert.ErrorIs(t, err, ErrAcceptorClosed)
}

func TestDefaultTLSConfigAdvertisesALPN(t *testing.T) {
	// Without WithTLSConfig the acceptor must still let tls-alpn-01
	// validators negotiate the marker protocol.
	acceptor := newLoopbackAcceptor(t, &fakeManager{cert: localhostCert(t)})

	assert.Contains(t, acceptor.tlsConfig.NextProtos, "acme-tls/1")
	assert.Contains(t, acceptor.tlsConfig.NextProtos, "h2")
}
