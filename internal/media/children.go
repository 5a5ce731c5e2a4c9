package media

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"feedcast/pkg/catalog"
)

// defaultChildLifetime is how long a child must run before an exit triggers
// a relaunch.
const defaultChildLifetime = 30 * time.Second

// child is one feed producer process started from the feed's Launch argv.
type child struct {
	feed    *catalog.Stream
	argv    []string
	pid     int
	started time.Time
	running bool

	// 너무 빨리 종료되면 재시작하지 않음
	disabled bool
	restarts int
}

type childExit struct {
	child *child
	err   error
}

// childLauncher owns the producer processes. Exits are reported on exits and
// handled by the event loop; relaunches happen on the next tick.
type childLauncher struct {
	enabled     bool
	debug       bool
	minLifetime time.Duration
	children    []*child
	exits       chan childExit
	dirty       bool

	ctx context.Context
	wg  sync.WaitGroup
}

func newChildLauncher(noLaunch, debug bool, minLifetime time.Duration) *childLauncher {
	if minLifetime <= 0 {
		minLifetime = defaultChildLifetime
	}
	return &childLauncher{
		enabled:     !noLaunch,
		debug:       debug,
		minLifetime: minLifetime,
		exits:       make(chan childExit, 8),
		ctx:         context.Background(),
	}
}

// start launches a child for every feed with a Launch directive.
func (l *childLauncher) start(ctx context.Context, st *ServerState) {
	l.ctx = ctx
	if !l.enabled {
		return
	}
	for _, s := range st.catalog.Feeds() {
		if len(s.ChildArgv) == 0 {
			continue
		}
		ch := &child{feed: s, argv: s.ChildArgv}
		l.children = append(l.children, ch)
		if feed, ok := st.feeds[s]; ok {
			feed.child = ch
		}
		l.launch(ch, st.now)
	}
}

func (l *childLauncher) launch(ch *child, now time.Time) {
	cmd := exec.CommandContext(l.ctx, ch.argv[0], ch.argv[1:]...)
	if l.debug {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		slog.Error("Failed to launch feed child", "feed", ch.feed.Name, "argv", ch.argv, "err", err)
		ch.disabled = true
		return
	}
	ch.pid = cmd.Process.Pid
	ch.started = now
	ch.running = true
	slog.Info("Feed child launched", "feed", ch.feed.Name, "pid", ch.pid, "argv", ch.argv)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := cmd.Wait()
		select {
		case l.exits <- childExit{child: ch, err: err}:
		case <-l.ctx.Done():
		}
	}()
}

// exited records a child exit reported by its wait goroutine.
func (l *childLauncher) exited(ex childExit, now time.Time) {
	ch := ex.child
	ch.running = false
	lived := now.Sub(ch.started)
	if lived < l.minLifetime {
		ch.disabled = true
		slog.Warn("Feed child exited too soon, not restarting", "feed", ch.feed.Name, "pid", ch.pid, "lived", lived, "err", ex.err)
		return
	}
	slog.Info("Feed child exited", "feed", ch.feed.Name, "pid", ch.pid, "lived", lived, "err", ex.err)
	l.dirty = true
}

// childExited records a child exit and releases the feed it was producing,
// so the relaunched child can open it again.
func (st *ServerState) childExited(ex childExit) {
	st.children.exited(ex, st.now)
	feed, ok := st.feeds[ex.child.feed]
	if !ok || !feed.opened {
		return
	}
	if w, ok := st.conns[feed.writer]; ok {
		st.destroy(w, ErrChildExited)
		return
	}
	feed.opened = false
	feed.writer = 0
	st.wakeWaiters(feed, StateSendDataTrailer)
}

// relaunch restarts exited children once per dirty mark.
func (l *childLauncher) relaunch(st *ServerState) {
	if !l.dirty || l.ctx.Err() != nil {
		return
	}
	l.dirty = false
	for _, ch := range l.children {
		if ch.running || ch.disabled {
			continue
		}
		ch.restarts++
		l.launch(ch, st.now)
	}
}

// stopAll waits for every child. The processes are killed when the launcher
// context is canceled.
func (l *childLauncher) stopAll() {
	l.wg.Wait()
}
