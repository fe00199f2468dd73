// Package client orchestrates a connection to a Signal K server: it
// discovers the server's capabilities, resolves versioned REST and
// WebSocket endpoint URLs, wires the two transports to them and tracks
// the login session.
//
// The lifecycle is Disconnected -> Discovering -> Connected ->
// Disconnected. Discovery replaces the held ServerInfo wholesale on
// every success and clears it on disconnect.
//
//	c := client.New(client.Options{Hostname: "localhost", Port: 3000})
//	if err := c.ConnectStream(ctx, transport.SubscribeSelf); err != nil {
//		// no WebSocket endpoint could be resolved
//	}
//
//	messages := c.Stream().Listen(transport.EventMessage)
package client
