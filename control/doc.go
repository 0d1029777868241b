// Package control implements the persistent control channel: presence and
// private messaging over one long-lived TCP connection per client.
//
// # Protocol
//
// Every message is a framed string (see package transport). The first frame
// a client sends is its display name. After that the client sends commands:
//
//	PM|<target>|<message>   private message to the first client named target
//	QUIT                    voluntary disconnect
//
// The server pushes:
//
//	CLIENTS|<name1>,<name2>,...,   full client list on every join and leave
//	PM|<sender>|<message>          a private message addressed to this client
//
// Unrecognized frames are logged server-side and ignored; the connection
// stays open. A private message to an unknown name is dropped without any
// reply to the sender.
//
// # Server
//
//	reg := registry.New(bus)
//	srv := control.NewServer(reg, bus)
//	if err := srv.Listen(":6000"); err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Serve()
//	defer srv.Close()
//
// # Client
//
//	c, err := control.Dial(ctx, "chat.example:6000", "alice")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.SendPrivate("bob", "hello")
//	for ev := range c.Events() {
//	    ...
//	}
package control
