package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/shoepad/internal/discovery"
	"github.com/banshee-data/shoepad/internal/httputil"
)

// run probes for a shoepad host and optionally prints its API status. It
// returns the process exit code.
func run(ctx context.Context, out io.Writer, args []string, doer httputil.Doer) int {
	fs := flag.NewFlagSet("shoepad-discover", flag.ContinueOnError)
	fs.SetOutput(out)
	target := fs.String("target", "", "Address to probe (default broadcast on port 1884)")
	timeout := fs.Duration("timeout", 5*time.Second, "How long to wait for an answer")
	status := fs.Bool("status", false, "Fetch /api/status from the host that answered")
	httpPort := fs.Int("http-port", 8080, "HTTP port of the shoepad API")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	addr := discovery.BroadcastAddr(discovery.Port)
	if *target != "" {
		var err error
		addr, err = net.ResolveUDPAddr("udp4", *target)
		if err != nil {
			fmt.Fprintf(out, "invalid target %q: %v\n", *target, err)
			return 2
		}
	}

	from, err := discovery.Probe(ctx, addr, *timeout)
	if errors.Is(err, discovery.ErrNoResponse) {
		fmt.Fprintf(out, "no answer from %s within %s\n", addr, *timeout)
		return 1
	}
	if err != nil {
		fmt.Fprintf(out, "probe failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "found %s\n", from.IP)

	if !*status {
		return 0
	}
	base := fmt.Sprintf("http://%s", net.JoinHostPort(from.IP.String(), fmt.Sprint(*httpPort)))
	var st json.RawMessage
	if err := httputil.NewClient(base, doer).GetJSON(ctx, "/api/status", &st); err != nil {
		fmt.Fprintf(out, "status: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "%s\n", st)
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.SetFlags(0)
	os.Exit(run(ctx, os.Stdout, os.Args[1:], nil))
}
