package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/example/tiffinbox/services"
	"github.com/example/tiffinbox/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// BoardHandler upgrades an admin connection to the realtime delivery board.
// Auth runs before this in the middleware chain; the socket only receives
// broadcasts, client frames are drained and dropped.
func BoardHandler(c *gin.Context) {
	role, _ := c.Get("role")
	roleStr, _ := role.(string)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.ErrorLogger.Printf("Error upgrading board connection: %v", err)
		return
	}

	services.RegisterClient(conn, roleStr)
	utils.InfoLogger.Printf("Board client connected (role=%s)", roleStr)

	go func() {
		defer services.UnregisterClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
