package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

type Refresher interface {
	Refresh(ctx context.Context, date rooms.Date) (rooms.Snapshot, error)
}

type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// WarmHandler refreshes snapshots ahead of user requests and then rebuilds
// the bootstrap document from them.
type WarmHandler struct {
	snaps Refresher
	boot  Rebuilder
	loc   *time.Location
	clock clock.PassiveClock
	log   zerolog.Logger
}

func NewWarmHandler(snaps Refresher, boot Rebuilder, loc *time.Location, clk clock.PassiveClock, log zerolog.Logger) *WarmHandler {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &WarmHandler{snaps: snaps, boot: boot, loc: loc, clock: clk, log: log}
}

func (h *WarmHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p WarmPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			h.log.Error().Err(err).Msg("bad warm payload")
			return fmt.Errorf("decode warm payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	days := max(p.Days, 1)

	start := h.clock.Now()
	today := rooms.Today(start, h.loc)
	for i := 0; i < days; i++ {
		d := today.AddDays(i)
		snap, err := h.snaps.Refresh(ctx, d)
		if err != nil {
			return h.fail(err, "refresh "+d.String())
		}
		h.log.Debug().Str("date", d.String()).Str("run_id", snap.RunID).Strs("degraded", snap.Degraded()).Msg("snapshot warmed")
	}

	if h.boot != nil {
		if err := h.boot.Rebuild(ctx); err != nil {
			return h.fail(err, "rebuild bootstrap")
		}
	}
	h.log.Info().Int("days", days).Dur("took", h.clock.Since(start)).Msg("warm done")
	return nil
}

func (h *WarmHandler) fail(err error, step string) error {
	err = fmt.Errorf("%s: %w", step, err)
	if isRetryableError(err) {
		h.log.Warn().Err(err).Msg("warm failed, will retry")
		return err
	}
	h.log.Error().Err(err).Msg("warm failed, dropping task")
	return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
}

// isRetryableError reports whether a later attempt could succeed. Timeouts
// and transport failures retry; anything else is dropped.
func isRetryableError(err error) bool {
	if errors.Is(err, cache.ErrPopulateTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
