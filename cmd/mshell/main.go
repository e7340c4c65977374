// Command mshell is a readline-style multiplexing shell: it keeps several
// consoled streams subscribed at once, lets the user switch the active pane
// and type lines that get written to it. The view lists every pane by index
// and shows only the active pane's accumulated output; the other panes'
// output is collected but not shown until that pane is made active.
// Keystroke handling is delegated to
// bubbles/textinput rather than hand-rolled raw-mode parsing, matching
// spec.md §1's explicit non-goal of reimplementing a terminal emulator.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alwitt/consoled/common"
	"github.com/alwitt/consoled/rest"
	"github.com/alwitt/consoled/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	ConfigFile string
	Server     string
	Port       int
	Streams    cli.StringSlice
	StatusPort int
	Timeout    int
}

// loadConfig reads an optional config file through viper into a
// common.ConsoledConfig, falling back to InstallDefaultConfigValues when no
// file is given, then layers any explicitly-set CLI flags on top.
func loadConfig(c *cli.Context, args *cliArgs) (common.ConsoledConfig, error) {
	common.InstallDefaultConfigValues()
	if args.ConfigFile != "" {
		viper.SetConfigFile(args.ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			return common.ConsoledConfig{}, fmt.Errorf("%w: %s", common.ErrConfig, err.Error())
		}
	}
	var cfg common.ConsoledConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return common.ConsoledConfig{}, fmt.Errorf("%w: %s", common.ErrConfig, err.Error())
	}
	if c.IsSet("server") {
		cfg.Server = args.Server
	}
	if c.IsSet("port") {
		cfg.Port = uint16(args.Port)
	}
	if c.IsSet("timeout-sec") {
		cfg.TimeoutSec = args.Timeout
	}
	return cfg, nil
}

func main() {
	args := cliArgs{}

	app := &cli.App{
		Name:  "mshell",
		Usage: "readline-based multiplexing shell over several consoled streams",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-file", Aliases: []string{"c"}, Destination: &args.ConfigFile},
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Value: "127.0.0.1", Destination: &args.Server},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 29168, Destination: &args.Port},
			&cli.StringSliceFlag{Name: "stream", Aliases: []string{"S"}, Usage: "stream to open, repeatable"},
			&cli.IntFlag{Name: "status-port", Value: 0, Usage: "local HTTP status port, 0 disables", Destination: &args.StatusPort},
			&cli.IntFlag{Name: "timeout-sec", Aliases: []string{"t"}, Value: 5, Destination: &args.Timeout},
		},
		Action: func(c *cli.Context) error {
			args.Streams = *cli.NewStringSlice(c.StringSlice("stream")...)
			cfg, err := loadConfig(c, &args)
			if err != nil {
				return err
			}
			return run(args, cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args cliArgs, cfg common.ConsoledConfig) error {
	client, err := session.New(session.Config{
		Server:         cfg.Server,
		Port:           int(cfg.Port),
		Timeout:        time.Duration(cfg.TimeoutSec) * time.Second,
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutSec) * time.Second,
		StatusLifetime: time.Duration(cfg.StatusLifetimeSec) * time.Second,
		Verbose:        cfg.Verbose,
		Debug:          cfg.Debug,
		TimestampData:  cfg.TimestampData,
		TimestampFmt:   cfg.TimestampFmt,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect() }()

	streams := args.Streams.Value()
	for _, name := range streams {
		if err := client.Subscribe(name, "read write"); err != nil {
			return fmt.Errorf("subscribe to %s: %w (%s)", name, err, client.GetError())
		}
	}

	if args.StatusPort != 0 {
		go serveStatus(client, args.StatusPort)
	}

	program := tea.NewProgram(newShellModel(client, streams))
	_, err = program.Run()
	return err
}

// serveStatus runs the loopback status dashboard endpoint named in
// SPEC_FULL.md §2's domain-stack wiring for gorilla/mux: it is additive to
// the front-end, not part of the core library's contract.
func serveStatus(client *session.Session, port int) {
	router := mux.NewRouter()
	rest.RegisterPathPrefix(router, "/status", rest.MethodHandlers{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
			_ = rest.WriteJSONResponse(w, http.StatusOK, rest.StreamsStatusResponse{
				Connected:         client.Connected(),
				AvailableStreams:  client.ReadAvailableStreams(),
				SubscribedStreams: client.SubscribedStreams(),
			})
		},
	})
	_ = http.ListenAndServe(fmt.Sprintf("127.0.0.1:%d", port), router)
}

// tickMsg drives the periodic drain of inbound data into each pane.
type tickMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

type shellModel struct {
	client  *session.Session
	streams []string
	active  int
	panes   map[string]string
	input   textinput.Model
	status  string
}

func newShellModel(client *session.Session, streams []string) shellModel {
	input := textinput.New()
	input.Placeholder = "type a line, or :N to switch pane"
	input.Focus()
	return shellModel{
		client:  client,
		streams: streams,
		panes:   map[string]string{},
		input:   input,
	}
}

func (m shellModel) Init() tea.Cmd {
	return tick()
}

func (m shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			m.input.SetValue("")
			m.handleSubmit(line)
			return m, nil
		}
	case tickMsg:
		for _, name := range m.streams {
			if out := m.client.ReadStream(name); out != "" {
				m.panes[name] += out
			}
		}
		if !m.client.Connected() {
			m.status = "disconnected: " + m.client.GetError()
		}
		return m, tick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSubmit routes a submitted line either to pane switching (":N") or
// to a write on the currently active stream.
func (m *shellModel) handleSubmit(line string) {
	if strings.HasPrefix(line, ":") {
		var idx int
		if _, err := fmt.Sscanf(line, ":%d", &idx); err == nil && idx >= 0 && idx < len(m.streams) {
			m.active = idx
		}
		return
	}
	if len(m.streams) == 0 {
		return
	}
	name := m.streams[m.active]
	if err := m.client.WriteStream(name, line); err != nil {
		m.status = err.Error()
	}
}

func (m shellModel) View() string {
	var b strings.Builder
	header := lipgloss.NewStyle().Bold(true)
	for i, name := range m.streams {
		label := fmt.Sprintf(" [%d] %s ", i, name)
		if i == m.active {
			label = header.Render(label)
		}
		b.WriteString(label)
	}
	b.WriteString("\n\n")
	if len(m.streams) > 0 {
		b.WriteString(m.panes[m.streams[m.active]])
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	if m.status != "" {
		b.WriteString("\n" + m.status)
	}
	return b.String()
}
