package handlers

import (
	"github.com/helioworks/sunwatch-backend-go/internal/config"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/internal/database"
	"github.com/helioworks/sunwatch-backend-go/internal/websocket"
	"github.com/sirupsen/logrus"
)

// Handlers holds everything the HTTP layer needs
type Handlers struct {
	cfg    *config.Config
	engine *alerts.Engine
	state  *alerts.AlertStateManager
	repos  *database.Repositories
	hub    *websocket.Hub
	logger *logrus.Logger
}

// New creates the handler set
func New(
	cfg *config.Config,
	engine *alerts.Engine,
	state *alerts.AlertStateManager,
	repos *database.Repositories,
	hub *websocket.Hub,
	logger *logrus.Logger,
) *Handlers {
	return &Handlers{
		cfg:    cfg,
		engine: engine,
		state:  state,
		repos:  repos,
		hub:    hub,
		logger: logger,
	}
}
