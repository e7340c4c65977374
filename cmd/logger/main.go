// Command logger is a multi-stream recorder: it subscribes to every stream
// named on the command line (or, if none are named, every stream the server
// currently advertises) and appends each one's output to its own per-stream
// log file on disk, polling until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alwitt/consoled/common"
	"github.com/alwitt/consoled/session"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	Server    string
	Port      int
	Streams   cli.StringSlice
	OutputDir string
	Mode      string
	Timeout   int
	PollMs    int
	JSONLog   bool
}

func main() {
	args := cliArgs{}

	app := &cli.App{
		Name:  "logger",
		Usage: "record one or more consoled streams to per-stream log files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name: "server", Aliases: []string{"s"}, EnvVars: []string{"CONSOLED_SERVER"},
				Value: "127.0.0.1", Destination: &args.Server,
			},
			&cli.IntFlag{
				Name: "port", Aliases: []string{"p"}, EnvVars: []string{"CONSOLED_PORT"},
				Value: 29168, Destination: &args.Port,
			},
			&cli.StringSliceFlag{
				Name: "stream", Aliases: []string{"S"},
				Usage: "stream to record, repeatable; if omitted, record every advertised stream",
			},
			&cli.StringFlag{
				Name: "output-dir", Aliases: []string{"o"}, Value: ".",
				Usage: "directory to write <stream>.log files into", Destination: &args.OutputDir,
			},
			&cli.StringFlag{
				Name: "mode", Aliases: []string{"m"}, Value: "read", Destination: &args.Mode,
			},
			&cli.IntFlag{
				Name: "timeout-sec", Aliases: []string{"t"}, Value: 5, Destination: &args.Timeout,
			},
			&cli.IntFlag{
				Name: "poll-ms", Value: 500, Destination: &args.PollMs,
			},
			&cli.BoolFlag{
				Name: "json-log", Aliases: []string{"j"}, Destination: &args.JSONLog,
			},
		},
		Action: func(c *cli.Context) error {
			args.Streams = *cli.NewStringSlice(c.StringSlice("stream")...)
			return run(args)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("logger failed")
	}
}

func run(args cliArgs) error {
	if args.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}

	client, err := session.New(session.Config{
		Server:        args.Server,
		Port:          args.Port,
		Timeout:       time.Duration(args.Timeout) * time.Second,
		TimestampData: true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect() }()

	streams := args.Streams.Value()
	if len(streams) == 0 {
		streams = client.AvailableStreams()
	}
	if len(streams) == 0 {
		return fmt.Errorf("%w: no streams available to record", common.ErrConfig)
	}

	files, err := openLogFiles(args.OutputDir, streams)
	if err != nil {
		return err
	}
	defer closeLogFiles(files)

	for _, name := range streams {
		if err := client.Subscribe(name, args.Mode); err != nil {
			log.WithError(err).WithFields(log.Fields{"stream": name}).Warn("subscribe failed, skipping")
			delete(files, name)
			continue
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	recordErr := make(chan error, 1)
	timer, err := common.GetIntervalTimerInstance("logger.poll", ctxt, &wg)
	if err != nil {
		return err
	}
	poll := time.Duration(args.PollMs) * time.Millisecond
	if err := timer.Start(poll, recordOnce(client, files, recordErr), false); err != nil {
		return err
	}
	defer func() { _ = timer.Stop() }()

	select {
	case <-interrupt:
		log.Info("logger received interrupt, shutting down")
		cancel()
		wg.Wait()
		return nil
	case err := <-recordErr:
		cancel()
		wg.Wait()
		return err
	}
}

// recordOnce returns the per-tick handler common.IntervalTimer drives: drain
// every subscribed stream's buffer into its log file, and report connection
// loss back to run through errCh rather than returning it as a handler
// error, since a TimeoutHandler error only gets logged, never surfaced.
func recordOnce(client *session.Session, files map[string]*os.File, errCh chan<- error) common.TimeoutHandler {
	return func() error {
		for name, f := range files {
			out := client.ReadStream(name)
			if out == "" {
				continue
			}
			if _, err := f.WriteString(out); err != nil {
				log.WithError(err).WithFields(log.Fields{"stream": name}).Warn("write to log file failed")
			}
		}
		if !client.Connected() {
			select {
			case errCh <- fmt.Errorf("%w: %s", common.ErrConnectionLost, client.GetError()):
			default:
			}
		}
		return nil
	}
}

// openLogFiles opens (appending, creating as needed) one log file per
// stream name under dir, named <stream>.log.
func openLogFiles(dir string, streams []string) (map[string]*os.File, error) {
	files := make(map[string]*os.File, len(streams))
	for _, name := range streams {
		path := filepath.Join(dir, name+".log")
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			closeLogFiles(files)
			return nil, fmt.Errorf("open log file for %s: %w", name, err)
		}
		files[name] = f
	}
	return files, nil
}

func closeLogFiles(files map[string]*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
