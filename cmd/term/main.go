// Command term is an interactive single-stream terminal front-end: it
// subscribes to one stream, echoes incoming data to stdout, and forwards
// stdin lines as writes. Per spec.md §1's explicit non-goal, it does not
// reimplement a terminal emulator — no raw mode, no cursor control, just a
// line-buffered relay on top of session.Session.
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/alwitt/consoled/session"
	"github.com/apex/log"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	Server  string
	Port    int
	Stream  string
	Mode    string
	Timeout int
	Debug   bool
}

func main() {
	args := cliArgs{}

	app := &cli.App{
		Name:  "term",
		Usage: "interactive single-stream terminal against a consoled server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Value: "127.0.0.1", Destination: &args.Server},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 29168, Destination: &args.Port},
			&cli.StringFlag{Name: "stream", Aliases: []string{"S"}, Required: true, Destination: &args.Stream},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "read write", Destination: &args.Mode},
			&cli.IntFlag{Name: "timeout-sec", Aliases: []string{"t"}, Value: 5, Destination: &args.Timeout},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Destination: &args.Debug},
		},
		Action: func(c *cli.Context) error {
			return run(args)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("term failed")
	}
}

func run(args cliArgs) error {
	client, err := session.New(session.Config{
		Server:  args.Server,
		Port:    args.Port,
		Timeout: time.Duration(args.Timeout) * time.Second,
		Debug:   args.Debug,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect() }()

	if err := client.Subscribe(args.Stream, args.Mode); err != nil {
		return fmt.Errorf("subscribe to %s failed: %w (%s)", args.Stream, err, client.GetError())
	}

	stop := make(chan struct{})
	go relayStdinToWrites(client, args.Stream, stop)

	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if out := client.ReadStream(args.Stream); out != "" {
			fmt.Print(out)
		}
		if !client.Connected() {
			return fmt.Errorf("disconnected: %s", client.GetError())
		}
	}
}

// relayStdinToWrites forwards each line of stdin as a write to stream,
// stopping the main loop when stdin closes.
func relayStdinToWrites(client *session.Session, stream string, stop chan<- struct{}) {
	defer close(stop)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := client.WriteStream(stream, scanner.Text()); err != nil {
			log.WithError(err).Warn("write rejected")
		}
	}
}
