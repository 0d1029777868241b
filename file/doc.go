// Package file implements the short-lived file transfer channel and the flat
// storage directory behind it.
//
// # Protocol
//
// Each TCP connection carries exactly one request. All strings are framed
// (see package transport); integers are big-endian.
//
//	client → server: <clientName> <command>
//
//	UPLOAD:   <fileName> <int64 size> <size raw bytes>
//	          server replies "OK"
//	LIST:     server replies <int32 count> then count × (<name> <int64 size>)
//	DOWNLOAD: <fileName>
//	          server replies "NOT_FOUND", or "OK" <int64 size> <size raw bytes>
//
// Any other command is answered with "ERR_UNKNOWN_COMMAND" and the
// connection is closed.
//
// # Storage
//
// Store keeps every file directly under one directory. Client-supplied names
// are reduced to their final path element, so "../../etc/passwd" is stored
// as "passwd" inside the directory. Writers and readers of the same name are
// serialized; the last completed upload wins.
//
// An upload whose stream ends before the declared size is stored with the
// bytes that arrived and still acknowledged with "OK".
//
// # Example
//
//	store, err := file.NewStore("server_files")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := file.NewServer(store, bus)
//	srv.OnUpload(func(e file.Entry, client string) {
//	    log.Printf("%s uploaded %s (%d bytes)", client, e.Name, e.Size)
//	})
//	if err := srv.Listen(":5001"); err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Serve()
//
//	c := file.NewClient("localhost:5001", "alice")
//	entries, err := c.List(ctx)
package file
