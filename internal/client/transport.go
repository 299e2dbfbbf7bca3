package client

import (
	"compress/flate"
	"crypto/tls"
	"io"
	"net"
)

// wireConn is the minimal surface the engine needs from whatever sits at
// the bottom of the stack: a plain net.Conn, a *tls.Conn after STARTTLS,
// or a flate-wrapped splice after COMPRESS=DEFLATE (§9 "transport
// rewiring"). All three satisfy io.Reader/io.Writer/io.Closer already;
// flateConn below is the one adapter this module has to write itself.
type wireConn interface {
	io.Reader
	io.Writer
	io.Closer
}

// flateConn splices a DEFLATE stream onto an existing connection without
// closing the connection itself, mirroring how imapserver.go in the
// surrounding ecosystem handles in-place COMPRESS negotiation: the raw
// socket keeps carrying bytes, only the framing in front of it changes.
type flateConn struct {
	under net.Conn
	zr     io.ReadCloser
	zw     *flate.Writer
}

func newFlateConn(under net.Conn) *flateConn {
	return &flateConn{
		under: under,
		zr:    flate.NewReader(under),
		zw:    flate.NewWriter(under, flate.DefaultCompression),
	}
}

func (f *flateConn) Read(p []byte) (int, error) { return f.zr.Read(p) }

func (f *flateConn) Write(p []byte) (int, error) {
	n, err := f.zw.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.zw.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

func (f *flateConn) Close() error {
	zwErr := f.zw.Close()
	zrErr := f.zr.Close()
	underErr := f.under.Close()
	if zwErr != nil {
		return zwErr
	}
	if zrErr != nil {
		return zrErr
	}
	return underErr
}

// upgradeTLS performs the client side of a STARTTLS handshake over raw and
// returns the resulting *tls.Conn. Any bytes already buffered by the
// caller's reader ahead of the handshake must have been fully drained of
// protocol meaning (i.e. nothing beyond the STARTTLS tagged OK) before
// calling this, since the TLS record layer takes over the socket entirely.
func upgradeTLS(raw net.Conn, cfg *tls.Config) (*tls.Conn, error) {
	conn := tls.Client(raw, cfg)
	if err := conn.Handshake(); err != nil {
		return nil, err
	}
	return conn, nil
}
