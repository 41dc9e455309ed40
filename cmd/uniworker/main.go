// Command uniworker is a console front-end for the uni-worker runtime: it
// connects a DEALER socket to a single client endpoint and answers a small
// built-in set of demo methods (ping, compare, return_none, slow_succeed,
// slow_fail). Slow methods offload to a goroutine and reply asynchronously
// so the handler never blocks the event loop.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xero-rpc/uniproto/message"
	"github.com/xero-rpc/uniproto/middleware"
	"github.com/xero-rpc/uniproto/worker"
)

func main() {
	endpoint := flag.String("endpoint", "tcp://127.0.0.1:5550", "DEALER connect endpoint, e.g. tcp://127.0.0.1:5550")
	rateLimit := flag.Float64("rate-limit", 0, "requests/sec to allow, 0 disables rate limiting")
	burst := flag.Int("burst", 1, "burst size for -rate-limit")
	flag.Parse()

	var opts []worker.Option
	opts = append(opts, worker.WithMiddleware(middleware.RecoverMiddleware(), middleware.LoggingMiddleware()))
	if *rateLimit > 0 {
		opts = append(opts, worker.WithRateLimit(*rateLimit, *burst))
	}

	peer, err := worker.New(*endpoint, dispatch, opts...)
	if err != nil {
		log.Fatalf("uniworker: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("uniworker: stopping")
		peer.Stop()
	}()

	log.Printf("starting worker connected to %q", *endpoint)
	peer.Start()
}

func dispatch(name string, args []any, kwargs map[string]any, reply middleware.ReplyFunc) {
	switch name {
	case "ping":
		reply("pong", message.ReplyFinal)
	case "compare":
		if len(args) != 2 {
			reply(map[string]any{"class": "ValueError", "message": "compare expects 2 arguments"}, message.ReplyException)
			return
		}
		if args[0] == args[1] {
			reply([]any{true, 1}, message.ReplyFinal)
		} else {
			reply([]any{false, 2}, message.ReplyFinal)
		}
	case "return_none":
		reply(nil, message.ReplyFinal)
	case "slow_succeed":
		workTime := durationArg(args, kwargs)
		reply("started", message.ReplyPartial)
		go func() {
			time.Sleep(workTime)
			reply(true, message.ReplyFinal)
		}()
	case "slow_fail":
		workTime := durationArg(args, kwargs)
		reply("started", message.ReplyPartial)
		go func() {
			time.Sleep(workTime)
			reply(false, message.ReplyFinal)
		}()
	default:
		reply(map[string]any{"class": "NotFound", "message": "method " + name + " not found"}, message.ReplyException)
	}
}

func durationArg(args []any, kwargs map[string]any) time.Duration {
	var secs float64
	if len(args) > 0 {
		secs, _ = toFloat(args[0])
	} else if v, ok := kwargs["work_time"]; ok {
		secs, _ = toFloat(v)
	}
	return time.Duration(secs * float64(time.Second))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
