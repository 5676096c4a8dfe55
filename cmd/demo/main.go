package main

// Demo of the progressive response: runs the Taipei query against the
// offline catalog and prints when each snapshot arrives.
//
//	go run ./cmd/demo fast   # every section completes before the final deadline
//	go run ./cmd/demo slow   # the catalog is slower than the final deadline

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/config"
	"github.com/ChuLiYu/trip-planner/internal/coordinator"
	"github.com/ChuLiYu/trip-planner/internal/producer"
	"github.com/ChuLiYu/trip-planner/internal/render"
	"github.com/ChuLiYu/trip-planner/internal/scheduler"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/demo <fast|slow>")
		os.Exit(1)
	}

	cfg := config.Defaults()
	cfg.Planner.QuickAck = config.Duration(500 * time.Millisecond)
	cfg.Planner.Final = config.Duration(3 * time.Second)

	var delay time.Duration
	switch os.Args[1] {
	case "fast":
		delay = 200 * time.Millisecond
	case "slow":
		delay = 5 * time.Second
	default:
		log.Fatalf("unknown mode %q", os.Args[1])
	}

	workers, err := producer.Registry(cfg.Workers, producer.SourcesFor(config.UpstreamConfig{Mock: true}, delay), cfg.Upstream.SearchRadius)
	if err != nil {
		log.Fatalf("Failed to build workers: %v", err)
	}
	svc := coordinator.NewService(
		scheduler.New(scheduler.Config{GracePeriod: cfg.Planner.GracePeriod.D()}),
		coordinator.Config{QuickAck: cfg.Planner.QuickAck.D(), Final: cfg.Planner.Final.D(), Workers: workers},
	)

	checkIn := types.DateOf(time.Now()).AddDays(14)
	req := types.Request{
		Destination: "台北",
		Dates:       types.DateRange{CheckIn: checkIn, CheckOut: checkIn.AddDays(2)},
		Party:       types.Party{Adults: 2},
		Budget:      types.Budget{Min: 2000, Max: 5000},
		Preferences: "歷史 文化 美食",
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	ticket, err := svc.Handle(ctx, req)
	if err != nil {
		log.Fatalf("Request rejected: %v", err)
	}
	fmt.Printf("✓ Request %s accepted (quick-ack %s, final %s, catalog delay %s)\n\n",
		ticket.RequestID, cfg.Planner.QuickAck, cfg.Planner.Final, delay)

	go func() {
		<-ctx.Done()
		_ = svc.Cancel(ticket.RequestID)
	}()

	for s := range ticket.Channel.Updates(context.Background()) {
		fmt.Printf("⏱  +%-6s %-9s seq=%d degraded=%v\n",
			time.Since(start).Round(10*time.Millisecond), s.Stage, s.Seq, s.DegradedKinds())
		fmt.Println(render.Text(s))
	}
}
