package pokerctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/estimation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const watchHelp = `Commands:
  vote <card>   select an estimate
  reveal        reveal or hide all cards
  clear         hide cards and start a new round
  stats         show statistics of the revealed round
  cards         list the cards of this session
  who           list participants and who has voted
  help          show this help
  quit          leave the view (you stay in the session)`

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Open a live view of a session you joined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session code: %w", err)
			}
			ctx := cmd.Context()
			cache, closeCache, err := opts.identityCache()
			if err != nil {
				return err
			}
			defer closeCache()

			client := opts.client()
			p, err := estimation.NewIdentityResolver(client, cache).Revalidate(ctx, sessionID)
			if errors.Is(err, estimation.ErrRejoinRequired) {
				return fmt.Errorf("%w: run pokerctl join %s --as <name>", err, sessionID)
			}
			if err != nil {
				return err
			}

			feed, closeFeed, err := opts.subscriber(p.Name)
			if err != nil {
				return err
			}
			defer closeFeed()

			out := &syncWriter{w: cmd.OutOrStdout()}
			logger := log.Logger
			engine := estimation.NewEngine(estimation.EngineConfig{
				SessionID: sessionID,
				UserName:  p.Name,
				Store:     client,
				Feed:      feed,
				Notifier:  printNotifier(out),
				Logger:    &logger,
			})
			v := newView(engine, estimation.NewCoordinator(engine, client), out)
			return v.run(ctx, cmd.InOrStdin())
		},
	}
}

// syncWriter serializes writes from the feed goroutine and the command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func printNotifier(out io.Writer) estimation.Notifier {
	return estimation.NotifierFunc(func(n estimation.Notice) {
		fmt.Fprintf(out, "* %s\n", n)
	})
}

// view is the interactive session screen.
type view struct {
	engine *estimation.Engine
	coord  *estimation.Coordinator
	out    io.Writer
}

func newView(engine *estimation.Engine, coord *estimation.Coordinator, out io.Writer) *view {
	return &view{engine: engine, coord: coord, out: out}
}

// run folds the feed in the background and executes commands read from in until quit,
// end of input, cancellation or a terminal engine error.
func (v *view) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineErr := make(chan error, 1)
	go func() { engineErr <- v.engine.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(v.out, "Watching session %s as %s. Type help for commands.\n", v.engine.SessionID(), v.engine.UserName())
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-engineErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if v.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle executes one command line and reports whether the view should close.
func (v *view) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "vote", "v":
		if len(fields) != 2 {
			fmt.Fprintln(v.out, "usage: vote <card>")
			return false
		}
		err = v.coord.SelectEstimate(ctx, fields[1])
	case "reveal", "r":
		err = v.coord.ToggleReveal(ctx)
	case "clear", "c":
		err = v.coord.ClearRound(ctx)
	case "stats", "s":
		v.printStats()
	case "cards":
		v.printCards()
	case "who", "w":
		v.printParticipants()
	case "help", "h", "?":
		fmt.Fprintln(v.out, watchHelp)
	case "quit", "q", "exit":
		return true
	default:
		fmt.Fprintf(v.out, "unknown command %q, type help\n", fields[0])
	}
	if err != nil {
		fmt.Fprintf(v.out, "! %s\n", err)
	}
	return false
}

func (v *view) printCards() {
	snap := v.engine.Snapshot()
	if snap.Session == nil {
		fmt.Fprintln(v.out, "session not loaded yet")
		return
	}
	selected := ""
	if snap.SelectedCard != nil {
		selected = *snap.SelectedCard
	}
	var b strings.Builder
	for _, card := range snap.Session.Deck() {
		if card == selected {
			fmt.Fprintf(&b, "[%s] ", card)
		} else {
			fmt.Fprintf(&b, "%s ", card)
		}
	}
	fmt.Fprintln(v.out, strings.TrimSpace(b.String()))
}

func (v *view) printParticipants() {
	snap := v.engine.Snapshot()
	if snap.Session == nil {
		fmt.Fprintln(v.out, "session not loaded yet")
		return
	}
	revealed := snap.Session.CardsRevealed
	fmt.Fprintf(v.out, "%s (%d/%d voted)\n", snap.Session.Name, snap.VotedCount(), len(snap.Participants))
	for _, p := range snap.Participants {
		status := "waiting"
		if e, ok := snap.Estimates[p.Name]; ok && e.HasValue() {
			status = "voted"
			if revealed {
				status = e.ValueOrEmpty()
			}
		}
		role := ""
		if p.IsCreator {
			role = " (creator)"
		}
		fmt.Fprintf(v.out, "  %-20s %s%s\n", p.Name, status, role)
	}
}

func (v *view) printStats() {
	stats := v.engine.Stats()
	if !stats.Revealed {
		fmt.Fprintln(v.out, "cards are hidden")
		return
	}
	if stats.TotalVotes == 0 {
		fmt.Fprintln(v.out, "no votes")
		return
	}
	if stats.HasNumeric() {
		fmt.Fprintf(v.out, "average %.1f  median %g  (%d numeric)\n", stats.Average, stats.Median, stats.NumericCount)
	}
	for _, b := range stats.Distribution {
		fmt.Fprintf(v.out, "  %-5s %s %d (%.0f%%)\n", b.Value, strings.Repeat("#", b.Count), b.Count, b.Share*100)
	}
	switch {
	case stats.StrongConsensus:
		fmt.Fprintf(v.out, "strong consensus (%.0f%%)\n", stats.ConsensusRatio*100)
	case stats.WideSpread:
		fmt.Fprintf(v.out, "wide spread (%.0f%%), discuss\n", stats.ConsensusRatio*100)
	default:
		fmt.Fprintf(v.out, "consensus %.0f%%\n", stats.ConsensusRatio*100)
	}
}
