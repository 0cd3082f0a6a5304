package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/gate"
	"github.com/martinemde/agentgraph/graph"
	"github.com/martinemde/agentgraph/permission"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent on the current thread",
	Long: `Start an interactive session. Each line is submitted as a message.

Commands inside the session:
  /mode [name]   show, cycle or set the permission mode
  /compact       summarize older history now
  /clear         start a fresh thread
  /exit          leave the session

Press Ctrl-C once to stop a running tool, again to cancel the turn.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLoaded()
		if err != nil {
			return err
		}
		threadID, err := resolveThread(cfg)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, loaded.logger, workDir)
		if err != nil {
			return err
		}
		defer a.Close()

		s := &session{
			app:      a,
			threadID: threadID,
			in:       bufio.NewScanner(cmd.InOrStdin()),
			out:      cmd.OutOrStdout(),
			render:   newRenderer(cmd.OutOrStdout()),
		}
		return s.loop(cmd.Context())
	},
}

// session is one interactive chat.
type session struct {
	app      *app
	threadID string
	in       *bufio.Scanner
	out      io.Writer
	render   *renderer
}

func (s *session) loop(ctx context.Context) error {
	fmt.Fprintf(s.out, "thread %s · mode %s · model %s\n", s.threadID, s.app.settings.Snapshot().Mode, s.app.settings.Snapshot().Model)

	if err := s.resumePending(ctx); err != nil {
		return err
	}

	for {
		fmt.Fprint(s.out, s.render.label.Render("› "))
		if !s.in.Scan() {
			fmt.Fprintln(s.out)
			return s.in.Err()
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			done, err := s.command(ctx, line)
			if err != nil {
				fmt.Fprintln(s.out, s.render.failed.Render(err.Error()))
			}
			if done {
				return nil
			}
			continue
		}

		run, err := s.app.exec.Submit(ctx, s.threadID, line)
		if err != nil {
			fmt.Fprintln(s.out, s.render.failed.Render(err.Error()))
			continue
		}
		s.follow(ctx, run)
	}
}

// resumePending asks about a confirmation left open by an earlier session.
func (s *session) resumePending(ctx context.Context) error {
	st, err := s.app.exec.GetState(ctx, s.threadID)
	if errors.Is(err, graph.ErrThreadNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.Status != conversation.StatusSuspended || st.Pending == nil {
		return nil
	}
	s.render.Confirmation(st.Pending)
	d, ok := s.ask()
	if !ok {
		return nil
	}
	run, err := s.app.exec.Resume(ctx, s.threadID, d)
	if err != nil {
		return err
	}
	s.follow(ctx, run)
	return nil
}

// follow renders run to completion, answering confirmations as they come.
func (s *session) follow(ctx context.Context, run *graph.Run) {
	for run != nil {
		res, err := s.drain(run)
		if err != nil {
			return
		}
		if res.Suspended == nil {
			return
		}
		d, ok := s.ask()
		if !ok {
			return
		}
		run, err = s.app.exec.Resume(ctx, s.threadID, d)
		if err != nil {
			fmt.Fprintln(s.out, s.render.failed.Render(err.Error()))
			return
		}
	}
}

// drain renders events until the run ends. An interrupt stops the running
// tool when there is one and cancels the run otherwise.
func (s *session) drain(run *graph.Run) (graph.Result, error) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	evs := run.Events()
	for {
		select {
		case ev, ok := <-evs:
			if !ok {
				return run.Wait()
			}
			s.render.Render(ev)
		case <-sig:
			if s.render.toolRunning() && s.app.exec.AbortTool(s.threadID) {
				continue
			}
			s.app.exec.Cancel(s.threadID)
		}
	}
}

// ask reads a confirmation answer. ok is false at end of input.
func (s *session) ask() (gate.Decision, bool) {
	for {
		fmt.Fprint(s.out, s.render.label.Render("Allow? [y]es / [n]o / [a]lways / [p]refix: "))
		if !s.in.Scan() {
			return gate.Decision{}, false
		}
		if d, ok := parseAnswer(s.in.Text()); ok {
			return d, true
		}
	}
}

// parseAnswer maps a typed confirmation answer to a decision.
func parseAnswer(answer string) (gate.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return gate.Approve(gate.RememberNone), true
	case "a", "always":
		return gate.Approve(gate.RememberExact), true
	case "p", "prefix":
		return gate.Approve(gate.RememberPrefix), true
	case "n", "no":
		return gate.Reject(), true
	}
	return gate.Decision{}, false
}

// command runs a slash command. done is true when the session should end.
func (s *session) command(ctx context.Context, line string) (done bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/mode":
		next := s.app.settings.Snapshot().Mode.Next()
		if len(fields) > 1 {
			if next, err = permission.ParseMode(fields[1]); err != nil {
				return false, err
			}
		}
		s.app.settings.SetMode(next)
		fmt.Fprintln(s.out, s.render.notice.Render("mode: "+string(next)))
	case "/compact":
		res, err := s.app.exec.Compact(ctx, s.threadID)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, s.render.notice.Render(compactSummary(res)))
	case "/clear":
		id, err := s.app.exec.Clear(ctx, s.threadID)
		if err != nil {
			return false, err
		}
		if threadFlag == "" {
			if err := setCurrentThread(s.app.cfg.Storage.DataDir, id); err != nil {
				return false, err
			}
		}
		s.threadID = id
		fmt.Fprintln(s.out, s.render.notice.Render("new thread "+id))
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func compactSummary(res graph.CompactResult) string {
	if res.Before == res.After {
		return "nothing to compact"
	}
	return fmt.Sprintf("compacted %d → %d tokens", res.Before, res.After)
}
