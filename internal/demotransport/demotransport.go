// Package demotransport is a loopback carrier for cmd/e2eectl's relay
// demo: two local Engine instances exchanging already-encrypted frame
// bytes over a websocket, so the demo has something resembling a wire
// to push bytes across. It is not a substitute for an SFU: there is no
// session negotiation, no multiplexing by SSRC, and no key material
// ever crosses this transport (§4.7).
//
// An http.Server with a gorilla/websocket upgrade handler runs on one
// side, dialed once from the other.
package demotransport

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn carries binary frame payloads over one end of a websocket
// connection. Both ends of a Pair implement it identically; nothing
// distinguishes "server" from "client" once the handshake completes.
type Conn struct {
	ws *websocket.Conn
}

// SendFrame writes one frame as a binary websocket message.
func (c *Conn) SendFrame(frame []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// ReceiveFrame blocks for the next binary websocket message.
func (c *Conn) ReceiveFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close tears down the underlying websocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

var upgrader = websocket.Upgrader{}

// NewLoopbackPair starts a throwaway HTTP server on 127.0.0.1:0, dials
// it once over a websocket, and returns the server- and client-side
// ends of that single connection. The listener and server are retired
// once the handshake completes; the demo never needs a second peer.
func NewLoopbackPair() (server *Conn, client *Conn, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, errors.Wrap(err, "listen")
	}

	accepted := make(chan *websocket.Conn, 1)
	acceptErr := make(chan error, 1)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				acceptErr <- err
				return
			}
			accepted <- ws
		}),
	}
	go srv.Serve(ln)

	url := fmt.Sprintf("ws://%s/", ln.Addr().String())
	clientWS, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ln.Close()
		return nil, nil, errors.Wrap(err, "dial loopback")
	}

	select {
	case serverWS := <-accepted:
		ln.Close()
		return &Conn{ws: serverWS}, &Conn{ws: clientWS}, nil
	case err := <-acceptErr:
		ln.Close()
		clientWS.Close()
		return nil, nil, errors.Wrap(err, "upgrade loopback")
	}
}
