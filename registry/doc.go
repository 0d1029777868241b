// Package registry tracks the clients connected to the control channel.
//
// A Registry maps display names to live output handles. Names are not
// required to be unique: every connection gets its own Handle with a random
// ID, removal is by handle identity, and name lookups return the earliest
// registered match.
//
// Every Add and Remove pushes the full client list to all connected handles
// as a single "CLIENTS|name1,name2," payload and publishes a
// events.ClientsChanged notification.
package registry
