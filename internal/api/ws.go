package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/dispatcher"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and hands it to the dispatcher. From
// here on the websocket is a dumb frame pipe; all protocol handling lives
// in the dispatcher.
func handleWS(log *zap.Logger, d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		d.Attach(&wsChannel{ws: ws})
	}
}

// wsChannel adapts a gorilla websocket to the dispatcher's channel
// contract. The write mutex guards against the dispatcher's write loop
// racing a close.
type wsChannel struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsChannel) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsChannel) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsChannel) Close() error {
	return c.ws.Close()
}
