package flashbots

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
)

// Watcher decides inclusion from chain receipts.
type Watcher interface {
	WaitInclusion(ctx context.Context, hashes []common.Hash, target uint64) (core.Resolution, error)
}

// Multi fans every bundle out to all relays in parallel.
type Multi struct {
	relays []Sender
	watch  Watcher
	log    *logrus.Entry
}

func NewMulti(relays []Sender, watch Watcher, log *logrus.Entry) (*Multi, error) {
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: no relays configured", core.ErrFatalConfiguration)
	}
	if watch == nil {
		return nil, errors.New("inclusion watcher is required")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Multi{relays: relays, watch: watch, log: log}, nil
}

// Submit succeeds when at least one relay accepted the bundle.
func (m *Multi) Submit(ctx context.Context, b *core.Bundle, target uint64) (core.Handle, error) {
	var (
		mu       sync.Mutex
		accepted int
		errs     []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range m.relays {
		r := r
		g.Go(func() error {
			rlog := m.log.WithFields(logrus.Fields{"relay": r.URL(), "target": target})
			res, err := r.Send(gctx, b, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rlog.WithField("err", FriendlyError(err)).Debug("send failed")
				errs = append(errs, fmt.Errorf("%s: %s", r.URL(), FriendlyError(err)))
				return nil
			}
			rlog.WithField("result", res).Debug("bundle accepted")
			accepted++
			return nil
		})
	}
	_ = g.Wait()
	if accepted == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrRelay, errors.Join(errs...))
	}
	return &inclusionHandle{watch: m.watch, hashes: b.Hashes(), target: target}, nil
}

// Simulate asks relays in order until one can simulate.
func (m *Multi) Simulate(ctx context.Context, b *core.Bundle, target uint64) (core.SimResult, error) {
	var errs []error
	for _, r := range m.relays {
		res, err := r.Simulate(ctx, b, target)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrSimulationUnsupported) {
			errs = append(errs, fmt.Errorf("%s: %s", r.URL(), FriendlyError(err)))
		}
	}
	if len(errs) == 0 {
		return core.SimResult{}, ErrSimulationUnsupported
	}
	return core.SimResult{}, errors.Join(errs...)
}

type inclusionHandle struct {
	watch  Watcher
	hashes []common.Hash
	target uint64
}

func (h *inclusionHandle) Wait(ctx context.Context) (core.Resolution, error) {
	return h.watch.WaitInclusion(ctx, h.hashes, h.target)
}
