// Package server provides the TLS-terminating acceptor that sits
// between a raw byte-stream listener and the application. Certificates
// come from a certman.Manager: every handshake consults its resolver,
// and the acceptor owns the manager's renewal scheduler lifetime.
// The scheduler starts with the acceptor and stops when it closes.
//
// The Acceptor interface is the capability boundary to the transport;
// ListenerAcceptor adapts a plain net.Listener to it.
//
// # Basic Usage
//
//	ln, err := net.Listen("tcp", ":443")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	acceptor, err := server.NewAcmeAcceptor(ctx, server.ListenerAcceptor{Listener: ln}, manager,
//		server.WithTLSConfig(server.NewTLSConfig(manager)),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer acceptor.Close()
//
//	for {
//		conn, err := acceptor.Accept()
//		if err != nil {
//			if errors.Is(err, server.ErrHandshake) {
//				continue // per-connection failure, keep accepting
//			}
//			return
//		}
//		go handle(conn)
//	}
package server
