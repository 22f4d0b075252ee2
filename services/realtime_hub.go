package services

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

// Event types pushed to the admin delivery board.
const (
	EventDeliveryUpdate = "delivery_update"
	EventPaymentUpdate  = "payment_update"
)

type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// realtimeHub holds every connected admin board client.
type realtimeHub struct {
	clients map[*websocket.Conn]string // conn -> role
	mutex   sync.Mutex
}

var hub = realtimeHub{
	clients: make(map[*websocket.Conn]string),
}

// RegisterClient adds a connection to the broadcast set.
func RegisterClient(conn *websocket.Conn, role string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	hub.clients[conn] = role
}

// UnregisterClient drops and closes a connection.
func UnregisterClient(conn *websocket.Conn) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	delete(hub.clients, conn)
	conn.Close()
}

// BroadcastDeliveryUpdate pushes a delivery status change to every client.
func BroadcastDeliveryUpdate(delivery models.Delivery) {
	broadcast(Message{
		Event: EventDeliveryUpdate,
		Data:  delivery,
	})
}

// BroadcastPaymentUpdate pushes a payment status change to every client.
func BroadcastPaymentUpdate(payment models.Payment) {
	broadcast(Message{
		Event: EventPaymentUpdate,
		Data:  payment,
	})
}

func broadcast(msg Message) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for conn := range hub.clients {
		if err := conn.WriteJSON(msg); err != nil {
			if utils.ErrorLogger != nil {
				utils.ErrorLogger.Printf("Error broadcasting %s, dropping client: %v", msg.Event, err)
			}
			delete(hub.clients, conn)
			conn.Close()
		}
	}
}
