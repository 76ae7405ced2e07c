package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/econokeith/robocam/pkg/hub"
)

// handleStatus returns the loop state and last cycle
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

// handleCycles returns recently observed cycles
func (s *Server) handleCycles(c *fiber.Ctx) error {
	return c.JSON(s.Recent())
}

// handleStatusWS streams a status message for every observed cycle
func (s *Server) handleStatusWS(c *websocket.Conn) {
	hub.NewListener(s.statusHub, c).Serve()
}
