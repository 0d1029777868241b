// Package netchat runs a small LAN collaboration server: a control channel
// for presence and private messages, a flat file transfer service, an
// optional mail store and an optional HTTP admin API, all sharing one
// connection registry and one event bus.
//
// # Getting Started
//
//	options := netchat.NewOptions()
//	options.APIAddr = "127.0.0.1:8080"
//
//	server, err := netchat.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := server.Start(ctx); err != nil && !server.IsRunning() {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
// # Services
//
// The control service (package control) listens on TCP 6000 by default. A
// client sends its display name first, then PM and QUIT commands; the server
// pushes CLIENT_LIST updates and routed private messages. Every frame is a
// length-prefixed UTF-8 string (package transport).
//
// The file service (package file) listens on TCP 5001 and serves one
// UPLOAD, LIST or DOWNLOAD request per connection from a flat storage
// directory, server_files by default.
//
// Video calls (package av) are peer-to-peer over UDP and need no server.
// Frames are JPEG-encoded and split into datagram-sized fragments when
// necessary (package av/video).
//
// Services start independently. When one port cannot be bound, Start
// reports the failure and the remaining services keep running.
//
// # Events
//
// Registry changes, routed and missed private messages and completed uploads
// are published on an events.Bus, available from Server.Events and streamed
// as JSON over the admin API websocket at /api/v1/events.
package netchat
