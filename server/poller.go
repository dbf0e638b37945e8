package server

import (
	"context"
	"log/slog"
	"time"

	"tidbyt.dev/caltrain"
)

const DefaultPollInterval = 60 * time.Second

// Refreshes departures on a timer while the interactive surface is
// open, and pushes fresh boards to websocket subscribers. Refreshes
// go through the engine's gate, so a poller never outpaces the
// background surface or another poller sharing the same storage.
type Poller struct {
	Engine     *caltrain.Engine
	Hub        *Hub
	Interval   time.Duration
	BoardLimit int

	logger *slog.Logger
}

func NewPoller(engine *caltrain.Engine, hub *Hub, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		Engine:     engine,
		Hub:        hub,
		Interval:   DefaultPollInterval,
		BoardLimit: DefaultBoardLimit,
		logger:     logger.With("component", "poller"),
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Refreshes if the gate allows, then broadcasts a board for every
// watched station. Boards go out even when the refresh fails, built
// from whatever is cached.
func (p *Poller) Poll(ctx context.Context) {
	outcome, err := p.Engine.Refresh(ctx, false)
	if err != nil {
		p.logger.Warn("refresh failed", "error", err)
	} else {
		p.logger.Debug("refresh", "outcome", outcome.String())
	}

	now := p.Engine.TimeNow()
	for _, stationID := range p.Hub.Stations() {
		data, err := boardMessage(p.Engine, stationID, now, p.BoardLimit)
		if err != nil {
			p.logger.Warn("building board failed", "station", stationID, "error", err)
			continue
		}
		p.Hub.Broadcast(stationID, data)
	}
}
