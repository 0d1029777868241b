// Package video handles the wire side of the video stream: JPEG encoding of
// captured frames, splitting encoded frames into UDP-sized datagrams and
// putting them back together on receipt.
//
// # Datagram Format
//
// An encoded frame of at most MaxDatagramPayload bytes is sent as one
// datagram holding the raw JPEG bytes. A larger frame is split into
// fragments, each prefixed by an 8-byte header:
//
//	[uint32 BE sequence][uint32 BE total][payload]
//
// Sequence numbers run from 0 to total-1 and every payload except the last
// carries exactly MaxFragmentPayload bytes.
//
// A raw frame always begins with the JPEG start-of-image marker 0xFFD8,
// which no valid fragment header can start with, so the receiver tells the
// two shapes apart from the first two bytes.
//
// # Reassembly
//
//	r := video.NewReassembler(video.DefaultReassemblyTimeout)
//	for {
//	    n, _, err := conn.ReadFromUDP(buf)
//	    ...
//	    frame, ok, err := r.Push(buf[:n])
//	    if ok {
//	        img, err := codec.Decode(frame)
//	        ...
//	    }
//	}
//
// Fragments of one frame are expected in order of arrival starting with
// sequence 0. A set that does not complete within the reassembly timeout is
// discarded.
//
// # Deterministic Testing
//
// Inject a TimeProvider to control reassembly timeouts:
//
//	r := video.NewReassemblerWithTimeProvider(time.Second, mockTime)
//
// # Thread Safety
//
// Reassembler is safe for concurrent use. JPEGCodec holds no mutable state.
package video
