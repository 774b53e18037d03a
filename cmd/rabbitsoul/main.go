// Command rabbitsoul is a headless SoulSeek peer: it logs into the
// server, serves shares out of an in-memory catalog, and drives
// queued transfers to completion, following spec.md's network-core
// scope (no UI beyond startup logging).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prxssh/rabbitsoul/internal/config"
	"github.com/prxssh/rabbitsoul/internal/core"
	"github.com/prxssh/rabbitsoul/internal/geoip"
	"github.com/prxssh/rabbitsoul/internal/logging"
	"github.com/prxssh/rabbitsoul/internal/netio"
	"github.com/prxssh/rabbitsoul/internal/shares"
	"github.com/prxssh/rabbitsoul/internal/transfer"
	"github.com/prxssh/rabbitsoul/internal/userlist"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

func main() {
	var (
		cfgPath    = flag.String("config", defaultConfigPath(), "path to the TOML config file")
		server     = flag.String("server", "server.slsknet.org:2242", "soulseek server address")
		username   = flag.String("username", "", "soulseek login")
		password   = flag.String("password", "", "soulseek password")
		listenPort = flag.Uint("listen-port", 2234, "inbound peer-connection port (0 to disable listening)")
	)
	flag.Parse()

	setupLogger()
	log := slog.Default()

	if *username == "" {
		log.Error("missing required -username flag")
		os.Exit(1)
	}

	cfg, err := config.LoadFile(*cfgPath, log)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	config.Swap(cfg)

	lists := userlist.LoadFrom(cfg.Banlist, cfg.Userlist, cfg.IPIgnoreList)

	// No GeoIP database is wired up here: geoip.NoOp misses every
	// lookup, so with geoBlock on every non-buddy counts as "country
	// unknown" and is denied only when geoPanic is set.
	processor := core.New(log, lists, geoip.NoOp{})

	io := netio.New(processor, netio.DefaultOptions(), log)
	processor.SetNetIO(io)

	db := shares.NewMemory()
	queuePath := filepath.Join(filepath.Dir(*cfgPath), "queue.toml")
	transferMgr := transfer.New(log, processorCore{processor}, db, lists, queuePath)
	processor.SetTransferSink(transferMgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn("event loop exited", "error", err)
		}
	}()

	if *listenPort != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", *listenPort))
		if err != nil {
			log.Error("failed to listen for peer connections", "error", err)
			os.Exit(1)
		}
		processor.SetListenPort(uint32(*listenPort))
		go func() {
			if err := processor.ListenPeers(ctx, ln); err != nil && ctx.Err() == nil {
				log.Warn("peer listener exited", "error", err)
			}
		}()
	}

	processor.Login(*username, *password, *server)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	processor.Disconnect()
	time.Sleep(200 * time.Millisecond)
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	l := slog.New(h)
	slog.SetDefault(l)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "rabbitsoul", "config.toml")
}

// processorCore narrows *core.Processor's Tier-typed CheckUser down to
// transfer.Core's plain int, since Go method sets require an exact
// return-type match and internal/transfer deliberately doesn't import
// internal/core to get at Tier itself.
type processorCore struct {
	p *core.Processor
}

func (c processorCore) RequestToPeer(user string, msg wire.Message) {
	c.p.RequestToPeer(user, msg)
}

func (c processorCore) CheckUser(user, addr string) (int, string) {
	tier, reason := c.p.CheckUser(user, addr)
	return int(tier), reason
}

func (c processorCore) RequestFileConn(user string) { c.p.RequestFileConn(user) }

func (c processorCore) IPIgnored(addr string) bool { return c.p.IPIgnored(addr) }
