// Package events carries notifications from the network services to the
// presentation layer.
//
// Services publish typed events on a Bus; any number of subscribers receive
// them on buffered channels. Events from one publisher reach a subscriber in
// the order they were published. A subscriber that stops draining its channel
// loses events rather than stalling the publishing session.
//
//	bus := events.NewBus(64)
//	sub := bus.Subscribe()
//	defer sub.Close()
//
//	for ev := range sub.C() {
//	    switch e := ev.(type) {
//	    case events.ClientsChanged:
//	        fmt.Println("online:", e.Names)
//	    case events.FileUploaded:
//	        fmt.Println("new file:", e.Name)
//	    }
//	}
package events
