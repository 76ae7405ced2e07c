// Command gimbalctl inspects and steers a running gimbal controller through
// its dashboard and ingest HTTP APIs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/econokeith/robocam/internal/config"
	"github.com/econokeith/robocam/internal/httpc"
	"github.com/econokeith/robocam/pkg/ingest"
	"github.com/econokeith/robocam/pkg/web"
)

const usage = `usage: gimbalctl [flags] <command> [args]

commands:
  status          loop state, counters and the last cycle
  cycles [n]      the last n observed cycles (default 10)
  primary <name>  change the primary face
  producers       ingest counters and connected producers
`

var errUsage = errors.New("invalid usage")

func main() {
	fs := flag.NewFlagSet("gimbalctl", flag.ExitOnError)
	webAddr := fs.String("web", config.DefaultWebAddr, "Dashboard address")
	ingestAddr := fs.String("ingest", config.DefaultIngestAddr, "Ingest address")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := ctl{web: "http://" + *webAddr, ingest: "http://" + *ingestAddr, out: os.Stdout}
	if err := c.run(ctx, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

type ctl struct {
	web    string
	ingest string
	out    io.Writer
}

func (c ctl) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "status":
		return c.status(ctx)
	case "cycles":
		n := 10
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v <= 0 {
				return fmt.Errorf("%w: cycles wants a positive count, got %q", errUsage, args[1])
			}
			n = v
		}
		return c.cycles(ctx, n)
	case "primary":
		if len(args) != 2 {
			return fmt.Errorf("%w: primary wants exactly one name", errUsage)
		}
		return c.primary(ctx, args[1])
	case "producers":
		return c.producers(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func (c ctl) status(ctx context.Context) error {
	var st web.Status
	if err := httpc.GetJSON(ctx, c.web+"/api/status", &st); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "state:     %s\n", st.State)
	fmt.Fprintf(c.out, "uptime:    %s\n", st.Uptime)
	fmt.Fprintf(c.out, "cycles:    %d (empty %d, fired %d, acted %d, errors %d)\n",
		st.Stats.Cycles, st.Stats.Empty, st.Stats.Fired, st.Stats.Acted, st.Stats.Errors)
	fmt.Fprintf(c.out, "listeners: %d\n", st.Listeners)
	if st.Ingest != nil {
		fmt.Fprintf(c.out, "ingest:    %d producers, version %d\n", st.Ingest.ProducerCount, st.Ingest.LastVersion)
	}
	if st.Last != nil {
		l := st.Last
		fmt.Fprintf(c.out, "last:      #%d %q error=(%.1f, %.1f) angles=(%.1f, %.1f)\n",
			l.Seq, l.Target.Name, l.Error.X, l.Error.Y, l.Angles[0], l.Angles[1])
	}
	return nil
}

func (c ctl) cycles(ctx context.Context, n int) error {
	var recent []web.CycleView
	if err := httpc.GetJSON(ctx, c.web+"/api/cycles", &recent); err != nil {
		return err
	}
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTARGET\tERROR\tCOMMAND\tANGLES\tNOTE")
	for _, v := range recent {
		note := ""
		switch {
		case v.Failure != "":
			note = v.Failure
		case v.Unchanged:
			note = "unchanged"
		case v.Centered:
			note = "centered"
		}
		fmt.Fprintf(w, "%d\t%s\t%.1f,%.1f\t%.2f,%.2f\t%.1f,%.1f\t%s\n",
			v.Seq, v.Target.Name, v.Error.X, v.Error.Y,
			v.Command[0], v.Command[1], v.Angles[0], v.Angles[1], note)
	}
	return w.Flush()
}

func (c ctl) primary(ctx context.Context, name string) error {
	var ack struct {
		Version uint64 `json:"version"`
	}
	if err := httpc.PostJSON(ctx, c.ingest+"/api/primary", map[string]string{"name": name}, &ack); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "primary set to %q (version %d)\n", name, ack.Version)
	return nil
}

func (c ctl) producers(ctx context.Context) error {
	var st ingest.Stats
	if err := httpc.GetJSON(ctx, c.ingest+"/api/ingest/stats", &st); err != nil {
		return err
	}
	var list struct {
		Producers []ingest.ProducerInfo `json:"producers"`
	}
	if err := httpc.GetJSON(ctx, c.ingest+"/api/ingest/producers", &list); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "received %d, sent %d, publishes %d, rejected %d, version %d\n",
		st.MessagesReceived, st.MessagesSent, st.Publishes, st.Rejected, st.LastVersion)
	for _, p := range list.Producers {
		fmt.Fprintf(c.out, "  %s connected=%s last_seen=%s\n", p.ID,
			p.Connected.Format(time.RFC3339), p.LastSeen.Format(time.RFC3339))
	}
	return nil
}
