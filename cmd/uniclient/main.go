// Command uniclient is a console front-end for the uni-client runtime: it
// binds a ROUTER endpoint, waits for a worker to register, sends an RPC
// (once by default, or as many times as -count says), and prints whatever
// comes back. Method arguments and keyword
// arguments are passed as JSON via --args/--kwargs.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xero-rpc/uniproto/client"
	"github.com/xero-rpc/uniproto/protocol"
	"github.com/xero-rpc/uniproto/xeroerr"
)

func main() {
	endpoint := flag.String("endpoint", "tcp://127.0.0.1:5550", "ROUTER bind endpoint, e.g. tcp://127.0.0.1:5550")
	method := flag.String("method", "", "name of the method to call")
	argsJSON := flag.String("args", "[]", "JSON array of positional arguments")
	kwargsJSON := flag.String("kwargs", "{}", "JSON object of keyword arguments")
	timeout := flag.Duration("timeout", protocol.RPCTimeout, "request timeout")
	count := flag.Int("count", 1, "number of times to repeat the call, -1 to call forever")
	flag.Parse()

	if *method == "" {
		fmt.Fprintln(os.Stderr, "uniclient: -method is required")
		os.Exit(2)
	}

	var args []any
	if err := json.Unmarshal([]byte(*argsJSON), &args); err != nil {
		log.Fatalf("uniclient: invalid -args: %v", err)
	}
	var kwargs map[string]any
	if err := json.Unmarshal([]byte(*kwargsJSON), &kwargs); err != nil {
		log.Fatalf("uniclient: invalid -kwargs: %v", err)
	}

	peer, err := client.New(*endpoint, client.WithPartialHandler(func(v any) {
		log.Printf("partial: %v", v)
	}))
	if err != nil {
		log.Fatalf("uniclient: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("uniclient: stopping")
		peer.Stop()
	}()

	go peer.Start()

	log.Println("waiting for worker")
	if err := peer.WaitForConnected(protocol.InitialConnectionTime); err != nil {
		log.Fatalf("uniclient: timed out waiting for worker: %v", err)
	}

	for n := 0; *count < 0 || n < *count; n++ {
		result, err := peer.RPC(*method, args, kwargs, *timeout)
		switch {
		case err == xeroerr.ErrLostPeer || err == xeroerr.ErrTimeout:
			fmt.Println("Timed out waiting for rpc reply.")
		case err != nil:
			fmt.Printf("Worker experienced exception servicing RPC: %v\n", err)
		default:
			fmt.Printf("rpc reply: %#v\n", result)
		}
		if *count > 0 && n == *count-1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	log.Println("shutting down")
	peer.Stop()
}
