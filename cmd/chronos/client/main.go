package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/astromechza/chronos/pkg/calendar"
	"github.com/astromechza/chronos/pkg/client"
	"github.com/astromechza/chronos/pkg/config"
	"github.com/astromechza/chronos/pkg/events"
)

const usage = `usage: client [-config file] <command> [args]

commands:
  watch                 follow the realtime snapshot
  list                  list every event
  get <id>              show one event
  create [flags]        create an event
  update <id> [flags]   change the given fields of an event
  delete <id>           delete an event
  ping <payload>        round trip a diagnostic request over the realtime channel
`

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	defaultConfig := "chronos.yaml"
	if v := os.Getenv("CHRONOS_CONFIG"); v != "" {
		defaultConfig = v
	}
	configVar := flag.String("config", defaultConfig, "path to a yaml config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(cfg.Log.Handler()))

	c, err := client.New(cfg.Client.APIURL,
		client.WithTimeout(cfg.Client.Timeout),
		client.WithRetries(uint64(cfg.Client.Retries)),
		client.WithBackoff(cfg.Client.Backoff),
	)
	if err != nil {
		return err
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "watch":
		return watch(ctx, cfg, c)
	case "list":
		evs, err := c.List(ctx)
		if err != nil {
			return err
		}
		return printEvents(evs)
	case "get":
		id, err := argID(args)
		if err != nil {
			return err
		}
		ev, err := c.Get(ctx, id)
		if errors.Is(err, events.ErrNotFound) {
			return fmt.Errorf("event %d not found", id)
		} else if err != nil {
			return err
		}
		return printJSON(ev)
	case "create":
		in, err := parseCreate(args[1:])
		if err != nil {
			return err
		}
		msg, err := c.Create(ctx, in)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	case "update":
		id, err := argID(args)
		if err != nil {
			return err
		}
		in, err := parseUpdate(args[2:])
		if err != nil {
			return err
		}
		msg, err := c.Update(ctx, id, in)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	case "delete":
		id, err := argID(args)
		if err != nil {
			return err
		}
		if err := c.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Printf("deleted event %d\n", id)
		return nil
	case "ping":
		if len(args) < 2 {
			return errors.New("ping needs a payload")
		}
		return ping(ctx, cfg, c, args[1])
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func argID(args []string) (int64, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s needs an event id", args[0])
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid event id %q", args[1])
	}
	return id, nil
}

func parseCreate(args []string) (events.CreateInput, error) {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	title := fs.String("title", "", "event title")
	description := fs.String("description", "", "event description")
	start := fs.String("start", "", "start date, RFC 3339")
	end := fs.String("end", "", "end date, RFC 3339")
	location := fs.String("location", "", "event location")
	if err := fs.Parse(args); err != nil {
		return events.CreateInput{}, err
	}
	in := events.CreateInput{Title: *title, Description: *description, Location: *location}
	var err error
	if in.StartDate, err = parseTime("start", *start); err != nil {
		return in, err
	}
	if in.EndDate, err = parseTime("end", *end); err != nil {
		return in, err
	}
	return in, nil
}

func parseUpdate(args []string) (events.UpdateInput, error) {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.String("title", "", "event title")
	fs.String("description", "", "event description")
	fs.String("start", "", "start date, RFC 3339")
	fs.String("end", "", "end date, RFC 3339")
	fs.String("location", "", "event location")
	if err := fs.Parse(args); err != nil {
		return events.UpdateInput{}, err
	}

	var (
		in  events.UpdateInput
		err error
	)
	// only flags given on the command line are sent
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "title":
			in.Title = &v
		case "description":
			in.Description = &v
		case "location":
			in.Location = &v
		case "start", "end":
			t, perr := parseTime(f.Name, v)
			if perr != nil {
				err = perr
				return
			}
			if f.Name == "start" {
				in.StartDate = &t
			} else {
				in.EndDate = &t
			}
		}
	})
	return in, err
}

func parseTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q: %w", name, v, err)
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEvents(evs []events.Event) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTART\tEND\tLOCATION")
	for _, ev := range evs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", ev.ID, ev.Title, ev.StartDate.Format(time.RFC3339), ev.EndDate.Format(time.RFC3339), ev.Location)
	}
	return w.Flush()
}

func printMarkers(evs []events.Event) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, m := range calendar.Expand(evs) {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Start.Local().Format("2006-01-02 15:04"), m.Title, m.ID)
	}
	return w.Flush()
}

func newSync(cfg *config.Config, c *client.Client) (*client.Sync, error) {
	return client.NewSync(c, cfg.Client.WebsocketURL,
		client.WithReconnect(cfg.Client.ReconnectAttempts, cfg.Client.ReconnectDelay),
		client.WithReadTimeout(2*cfg.Realtime.PingInterval))
}

func watch(ctx context.Context, cfg *config.Config, c *client.Client) error {
	s, err := newSync(cfg, c)
	if err != nil {
		return err
	}

	var runErr error
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = s.Run(ctx)
	}()

	t := time.NewTicker(time.Second)
	defer t.Stop()
	wasConnected := true
	for {
		select {
		case snap, ok := <-s.Updates():
			if !ok {
				wg.Wait()
				return runErr
			}
			if !s.Connected() {
				continue
			}
			fmt.Printf("--- %d events (generation %d)\n", len(snap.Events), snap.Generation)
			if err := printMarkers(snap.Events); err != nil {
				return err
			}
		case <-t.C:
			connected := s.Connected()
			if !connected && wasConnected {
				fmt.Println("Conectando ao servidor...")
			} else if connected && !wasConnected {
				if evs, ok := s.Current(); ok {
					fmt.Printf("--- %d events\n", len(evs))
					if err := printMarkers(evs); err != nil {
						return err
					}
				}
			}
			wasConnected = connected
		}
	}
}

func ping(ctx context.Context, cfg *config.Config, c *client.Client, raw string) error {
	var payload any = raw
	if json.Valid([]byte(raw)) {
		payload = json.RawMessage(raw)
	}

	s, err := newSync(cfg, c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	wg := new(sync.WaitGroup)
	defer func() {
		cancel()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()

	deadline := time.Now().Add(cfg.Client.Timeout)
	for !s.Connected() {
		if time.Now().After(deadline) {
			return client.ErrNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	pctx, pcancel := context.WithTimeout(ctx, cfg.Client.Timeout)
	defer pcancel()
	resp, err := s.Ping(pctx, payload)
	if err != nil {
		return err
	}
	return printJSON(resp)
}
