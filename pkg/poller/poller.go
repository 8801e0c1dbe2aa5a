// Package poller watches GitHub repositories for issue activity and
// publishes what it finds on the event bus.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mywio/im-notify/pkg/config"
	"github.com/mywio/im-notify/pkg/core"
	"github.com/mywio/im-notify/pkg/event"
	"github.com/mywio/im-notify/pkg/githost"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source yields the issue events of a repository since a cursor.
type Source interface {
	Poll(ctx context.Context, repo githost.Repo, cur githost.Cursor) ([]*event.Event, githost.Cursor, error)
}

type Poller struct {
	cfg      config.Config
	source   Source
	logger   *slog.Logger
	registry core.PluginRegistry
	stopCh   chan struct{}
	pollNow  chan struct{}
	wg       sync.WaitGroup
	ticker   *time.Ticker
	started  bool

	repos []githost.Repo

	mu      sync.Mutex
	cursors map[string]githost.Cursor

	polls     *prometheus.CounterVec
	published prometheus.Counter
}

func NewPoller(cfg config.Config, source Source) *Poller {
	return &Poller{
		cfg:     cfg,
		source:  source,
		stopCh:  make(chan struct{}),
		pollNow: make(chan struct{}, 1),
		cursors: map[string]githost.Cursor{},
	}
}

func (p *Poller) Name() string {
	return "poller"
}

func (p *Poller) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	p.registry = registry
	if p.source == nil {
		return fmt.Errorf("poller has no source")
	}
	for _, name := range p.cfg.PollRepos {
		repo, err := githost.ParseRepo(name)
		if err != nil {
			return err
		}
		p.repos = append(p.repos, repo)
	}
	if p.cfg.PollInterval <= 0 {
		p.cfg.PollInterval = config.DefaultPollInterval
	}

	factory := promauto.With(registry.GetMetricsRegisterer())
	p.polls = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "imnotify_polls_total",
		Help: "Repository polls by result.",
	}, []string{"result"})
	p.published = factory.NewCounter(prometheus.CounterOpts{
		Name: "imnotify_polled_events_total",
		Help: "Issue events published by the poller.",
	})

	registry.Subscribe(string(core.EventPollNow), func(ctx context.Context, ev core.InternalEvent) {
		p.Trigger()
	})
	return nil
}

// Trigger requests a poll at the next opportunity. Requests coalesce.
func (p *Poller) Trigger() {
	select {
	case p.pollNow <- struct{}{}:
	default:
	}
}

func (p *Poller) Start(ctx context.Context) error {
	if p.started {
		return nil
	}
	p.started = true
	if len(p.repos) == 0 {
		p.logger.Info("No repositories to poll, relying on webhooks")
		return nil
	}

	p.logger.Info("Starting poller", "repos", p.cfg.PollRepos, "interval", p.cfg.PollInterval)
	p.ticker = time.NewTicker(p.cfg.PollInterval)

	go func() {
		// Baseline immediately
		p.runPoll(ctx)

		for {
			select {
			case <-p.ticker.C:
				p.runPoll(ctx)
			case <-p.pollNow:
				p.runPoll(ctx)
			case <-p.stopCh:
				p.ticker.Stop()
				return
			case <-ctx.Done():
				p.ticker.Stop()
				return
			}
		}
	}()

	return nil
}

func (p *Poller) Stop(ctx context.Context) error {
	if !p.started {
		return nil
	}
	close(p.stopCh)
	p.logger.Info("Waiting for poll to finish...")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Poller stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("Context cancelled while waiting for poller to stop")
		return ctx.Err()
	}
	return nil
}

func (p *Poller) runPoll(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()
	p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) {
	for _, repo := range p.repos {
		if ctx.Err() != nil {
			return
		}
		p.pollRepo(ctx, repo)
	}
}

func (p *Poller) pollRepo(ctx context.Context, repo githost.Repo) {
	key := repo.String()
	p.mu.Lock()
	cur := p.cursors[key]
	p.mu.Unlock()

	events, next, err := p.source.Poll(ctx, repo, cur)
	if err != nil {
		p.polls.WithLabelValues("error").Inc()
		p.logger.Error("Poll failed", "repo", key, "error", err)
		return
	}
	p.polls.WithLabelValues("ok").Inc()

	p.mu.Lock()
	p.cursors[key] = next
	p.mu.Unlock()

	if cur.IsZero() {
		p.logger.Info("Poll baseline established", "repo", key)
		return
	}
	for _, ev := range events {
		p.logger.Debug("Publishing issue event", "repo", key, "issue", ev.Key(), "type", ev.Type.Name)
		p.registry.Publish(ctx, githost.ToInternal(p.Name(), ev))
		p.published.Inc()
	}
}

// Cursor reports the poll position of a repository.
func (p *Poller) Cursor(repo string) (githost.Cursor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.cursors[repo]
	return cur, ok
}
