package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// eventsHandler upgrades the connection and streams the tenant's document
// lifecycle events until either side closes. Client messages are drained
// and ignored; the feed is one-way.
func (s *Server) eventsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	tenant := tenantID(c)
	sub := s.d.Hub.Subscribe(tenant)
	defer sub.Close()

	ctx := c.Request().Context()

	// Reads only surface client disconnects; incoming frames carry no
	// meaning on this feed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.WSPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.WSWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusAbnormalClosure, "ping failed")
				return nil
			}
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "feed closed")
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.ErrorContext(ctx, "marshalling event", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WSWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return nil
			}
		}
	}
}
