// Package av implements the point-to-point video call: camera capture,
// JPEG encoding and a UDP send/receive pair per call.
//
// # Architecture
//
//   - Camera: the capture device seam; PatternCamera synthesizes frames
//   - Endpoint: one side of a call, with a send loop and a receive loop
//   - av/video: JPEG codec, datagram fragmentation and reassembly
//
// Each call runs two goroutines. The send loop captures a frame about every
// 66ms, publishes it as a local preview, encodes it and sends it as one or
// more datagrams. The receive loop reassembles datagrams, decodes frames and
// publishes them as remote frames. Undecodable datagrams are counted and
// skipped.
//
// # Making Calls
//
//	cfg := av.NewCallConfig(7000, "peer.example", 7001)
//	ep := av.NewEndpoint(cfg, av.NewPatternCamera(320, 240))
//	if err := ep.Start(); err != nil {
//	    // errors.Is(err, av.ErrDeviceUnavailable) when no camera opens
//	    log.Fatal(err)
//	}
//	defer ep.Stop()
//
//	for f := range ep.Frames() {
//	    render(f.Source, f.Image)
//	}
//
// # Stopping
//
// Stop flips the running flag, closes the socket to unblock the receive
// loop and waits at most CallConfig.JoinTimeout for both loops. The camera
// and socket are released even when a loop is stuck, so a following Start
// can rebind the same port.
package av
