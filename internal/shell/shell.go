package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"kniffel/internal/gamedata"
	"kniffel/internal/node"
	"kniffel/internal/scoresheet"
	"kniffel/internal/share"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	rl "github.com/chzyer/readline"
	"github.com/rs/zerolog"
)

var (
	errQuit  = errors.New("quit")
	errUsage = errors.New("usage")
)

type command struct {
	usage string
	help  string
	run   func(s *Shell, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"show":     {"show", "print the scoreboard", (*Shell).cmdShow},
		"set":      {"set <player> <field> <points|->", "enter points, - clears the cell", (*Shell).cmdSet},
		"strike":   {"strike <player> <field> [off]", "strike a field out, or undo it", (*Shell).cmdStrike},
		"name":     {"name <player> <name>", "rename a player", (*Shell).cmdName},
		"add":      {"add", "add a player", (*Shell).cmdAdd},
		"remove":   {"remove <player>", "remove a player", (*Shell).cmdRemove},
		"reset":    {"reset", "start a new game with one player", (*Shell).cmdReset},
		"revanche": {"revanche", "rematch with the same players in reverse order", (*Shell).cmdRevanche},
		"peers":    {"peers", "show sync status", (*Shell).cmdPeers},
		"connect":  {"connect <peer-id>", "connect to a peer", (*Shell).cmdConnect},
		"forget":   {"forget <peer-id>", "disconnect and forget a peer", (*Shell).cmdForget},
		"reset-id": {"reset-id", "drop all peers and get a new peer id", (*Shell).cmdResetID},
		"link":     {"link", "print the share link", (*Shell).cmdLink},
		"export":   {"export", "print the stats export", (*Shell).cmdExport},
		"help":     {"help", "list commands", (*Shell).cmdHelp},
		"quit":     {"quit", "leave the shell", func(*Shell, context.Context, []string) error { return errQuit }},
	}
}

// Shell is a line-oriented front end to a node.
type Shell struct {
	node      *node.Node
	out       io.Writer
	publicURL string
	log       zerolog.Logger
}

func New(n *node.Node, out io.Writer, publicURL string, log zerolog.Logger) *Shell {
	return &Shell{
		node:      n,
		out:       out,
		publicURL: publicURL,
		log:       log.With().Str("component", "shell").Logger(),
	}
}

// Exec runs one command line. It returns errQuit when the shell should exit;
// command errors are printed, not returned.
func (s *Shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(s.out, "unknown command %q, try help\n", fields[0])
		return nil
	}
	err := cmd.run(s, ctx, fields[1:])
	switch {
	case err == nil:
	case errors.Is(err, errQuit):
		return err
	case errors.Is(err, errUsage):
		fmt.Fprintf(s.out, "usage: %s\n", cmd.usage)
	default:
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	return nil
}

// resolvePlayer accepts a 1-based position, a player id or a name.
func resolvePlayer(state scoresheet.GameState, arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(state.Players) {
			return "", fmt.Errorf("%w: no player %d", gamedata.ErrPlayerNotFound, n)
		}
		return state.Players[n-1].ID, nil
	}
	for _, p := range state.Players {
		if p.ID == arg || strings.EqualFold(p.Name, arg) {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", gamedata.ErrPlayerNotFound, arg)
}

// resolveField finds the section a field name belongs to.
func resolveField(name string) (scoresheet.Section, error) {
	if _, err := scoresheet.ParseUpperField(name); err == nil {
		return scoresheet.SectionUpper, nil
	}
	if _, err := scoresheet.ParseLowerField(name); err == nil {
		return scoresheet.SectionLower, nil
	}
	return "", fmt.Errorf("%w: %q", gamedata.ErrUnknownField, name)
}

func (s *Shell) updateCell(playerArg, field string, patch scoresheet.CellPatch) error {
	id, err := resolvePlayer(s.node.Store.State(), playerArg)
	if err != nil {
		return err
	}
	section, err := resolveField(field)
	if err != nil {
		return err
	}
	return s.node.Store.UpdateCell(id, section, field, patch)
}

func (s *Shell) cmdShow(_ context.Context, _ []string) error {
	fmt.Fprint(s.out, Scoreboard(s.node.Store.State()))
	return nil
}

func (s *Shell) cmdSet(_ context.Context, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	patch := scoresheet.CellPatch{SetValue: true}
	if args[2] != "-" {
		v, err := strconv.Atoi(args[2])
		if err != nil {
			return errUsage
		}
		patch.Value = &v
	}
	return s.updateCell(args[0], args[1], patch)
}

func (s *Shell) cmdStrike(_ context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	struck := true
	if len(args) == 3 {
		if args[2] != "off" {
			return errUsage
		}
		struck = false
	}
	return s.updateCell(args[0], args[1], scoresheet.CellPatch{Struck: &struck})
}

func (s *Shell) cmdName(_ context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	id, err := resolvePlayer(s.node.Store.State(), args[0])
	if err != nil {
		return err
	}
	return s.node.Store.UpdatePlayerName(id, strings.Join(args[1:], " "))
}

func (s *Shell) cmdAdd(_ context.Context, _ []string) error {
	s.node.Store.AddPlayer()
	fmt.Fprintf(s.out, "added player %d\n", len(s.node.Store.State().Players))
	return nil
}

func (s *Shell) cmdRemove(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := resolvePlayer(s.node.Store.State(), args[0])
	if err != nil {
		return err
	}
	return s.node.Store.RemovePlayer(id)
}

func (s *Shell) cmdReset(_ context.Context, _ []string) error {
	s.node.Store.Reset()
	return nil
}

func (s *Shell) cmdRevanche(_ context.Context, _ []string) error {
	s.node.Store.Revanche()
	return nil
}

func (s *Shell) cmdPeers(_ context.Context, _ []string) error {
	st := s.node.Engine.Status()
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	self := st.SelfID
	if !st.Ready {
		self = "(offline)"
	}
	fmt.Fprintf(tw, "self\t%s\n", self)
	fmt.Fprintf(tw, "connected\t%s\n", strings.Join(st.Connected, ", "))
	fmt.Fprintf(tw, "known\t%s\n", strings.Join(s.node.Directory.KnownPeers(), ", "))
	if st.Connecting {
		fmt.Fprintf(tw, "connecting\tyes\n")
	}
	if st.Reconnecting {
		fmt.Fprintf(tw, "reconnecting\tyes\n")
	}
	if st.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", st.Error)
	}
	return tw.Flush()
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := s.node.Engine.ConnectToPeer(ctx, strings.ToUpper(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "connected to %s\n", strings.ToUpper(args[0]))
	return nil
}

func (s *Shell) cmdForget(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	s.node.Engine.RemovePeer(strings.ToUpper(args[0]))
	return nil
}

func (s *Shell) cmdResetID(ctx context.Context, _ []string) error {
	if err := s.node.Engine.ResetPeerID(ctx); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "new peer id %s\n", s.node.Engine.SelfID())
	return nil
}

func (s *Shell) cmdLink(_ context.Context, _ []string) error {
	link, err := share.Link(s.publicURL, s.node.Engine.SelfID())
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, link)
	return nil
}

func (s *Shell) cmdExport(_ context.Context, _ []string) error {
	data, err := share.Export(s.node.Store.State(), s.node.Settings.Get()).Marshal()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	return nil
}

func (s *Shell) cmdHelp(_ context.Context, _ []string) error {
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for _, name := range commandNames() {
		cmd := commands[name]
		fmt.Fprintf(tw, "%s\t%s\n", cmd.usage, cmd.help)
	}
	return tw.Flush()
}

func commandNames() []string {
	return []string{
		"show", "set", "strike", "name", "add", "remove", "reset", "revanche",
		"peers", "connect", "forget", "reset-id", "link", "export", "help", "quit",
	}
}

func (s *Shell) prompt() string {
	st := s.node.Engine.Status()
	switch {
	case !st.Ready:
		return "kniffel» "
	case len(st.Connected) > 0:
		return fmt.Sprintf("kniffel %s+%d» ", st.SelfID, len(st.Connected))
	default:
		return fmt.Sprintf("kniffel %s» ", st.SelfID)
	}
}

// Run reads commands until quit, EOF or ctx is done. Changes arriving from
// peers are announced as they happen.
func (s *Shell) Run(ctx context.Context, historyFile string) error {
	completer := rl.NewPrefixCompleter()
	for _, name := range commandNames() {
		completer.Children = append(completer.Children, rl.PcItem(name))
	}

	l, err := rl.NewEx(&rl.Config{
		Prompt:            s.prompt(),
		HistoryFile:       historyFile,
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	closeOnce := sync.OnceFunc(func() { l.Close() })
	defer closeOnce()
	s.out = l.Stdout()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.watch(runCtx, l, closeOnce)

	fmt.Fprintln(s.out, "type help for a list of commands")
	for {
		line, err := l.Readline()
		if err == rl.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err != nil {
			return nil
		}
		if err := s.Exec(runCtx, line); errors.Is(err, errQuit) {
			return nil
		}
		l.SetPrompt(s.prompt())
	}
}

// watch closes the reader once ctx is done, which ends Run.
func (s *Shell) watch(ctx context.Context, l *rl.Instance, closeReader func()) {
	for {
		select {
		case <-ctx.Done():
			closeReader()
			return
		case ev := <-s.node.Bus.StateChanges:
			if ev.Origin != "" {
				fmt.Fprintf(s.out, "« scoreboard updated by %s\n", ev.Origin)
			}
		case <-s.node.Bus.PeerChanges:
			l.SetPrompt(s.prompt())
			l.Refresh()
		}
	}
}
