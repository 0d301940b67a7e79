package crawler

import (
	"context"
	"time"

	"github.com/Vodeneev/tounesbet/internal/parser/parsers/tounesbet"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

// Live takes a snapshot of the live scoreboard with its inline markets.
func (s *Service) Live(ctx context.Context) (res SnapshotResult, err error) {
	started := time.Now()
	defer func() { s.record("live", started, err) }()

	html, err := s.fetcher.LiveHTML(ctx)
	if err != nil {
		return res, err
	}
	sports := tounesbet.ParseLive(html, s.now())
	if len(sports) == 0 {
		if !tounesbet.HasMatchMarkers(html) && tounesbet.LooksBlocked(html) {
			return res, models.ErrBlocked
		}
		s.logger.Debug("live scoreboard is empty")
		return res, nil
	}
	res.SportID = sports[0].ExternalID
	for _, sp := range sports {
		res.Leagues += len(sp.Leagues)
	}
	res.Games = len(models.Games(sports))

	res.Persisted, err = s.persister.Persist(ctx, sports)
	if err != nil {
		return res, err
	}
	s.logger.Info("live snapshot persisted", "games", res.Games, "markets", res.Persisted.Markets)
	return res, nil
}
