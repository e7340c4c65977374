// Command streamlist connects to a consoled server, requests the current
// set of available streams, prints them, and exits. It is the thinnest of
// the four front-ends named in spec.md §1: argument parsing and display
// only, resting entirely on session.Session.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alwitt/consoled/common"
	"github.com/alwitt/consoled/session"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	Server   string
	Port     int
	Timeout  int
	JSONLog  bool
	LogLevel string `validate:"required,oneof=debug info warn error"`
}

func main() {
	args := cliArgs{}

	app := &cli.App{
		Name:  "streamlist",
		Usage: "list streams currently available on a consoled server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name: "server", Aliases: []string{"s"}, EnvVars: []string{"CONSOLED_SERVER"},
				Value: "127.0.0.1", Destination: &args.Server,
			},
			&cli.IntFlag{
				Name: "port", Aliases: []string{"p"}, EnvVars: []string{"CONSOLED_PORT"},
				Value: 29168, Destination: &args.Port,
			},
			&cli.IntFlag{
				Name: "timeout-sec", Aliases: []string{"t"}, Value: 5, Destination: &args.Timeout,
			},
			&cli.BoolFlag{
				Name: "json-log", Aliases: []string{"j"}, Destination: &args.JSONLog,
			},
			&cli.StringFlag{
				Name: "log-level", Aliases: []string{"l"}, Value: "warn", Destination: &args.LogLevel,
			},
		},
		Action: func(c *cli.Context) error {
			return run(args)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("streamlist failed")
	}
}

func run(args cliArgs) error {
	if args.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch args.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}

	validate := validator.New()
	if err := validate.Struct(&args); err != nil {
		return err
	}

	if !session.CheckServer(args.Server, args.Port, time.Duration(args.Timeout)*time.Second) {
		return fmt.Errorf("%w: %s:%d unreachable", common.ErrConnect, args.Server, args.Port)
	}

	client, err := session.New(session.Config{
		Server:  args.Server,
		Port:    args.Port,
		Timeout: time.Duration(args.Timeout) * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect() }()

	for _, name := range client.AvailableStreams() {
		fmt.Println(name)
	}
	if errMsg := client.GetError(); errMsg != "" {
		log.WithFields(log.Fields{"component": "streamlist"}).Warn(errMsg)
	}
	return nil
}
