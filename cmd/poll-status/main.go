package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/pkg/poller"
)

func main() {
	var (
		baseURL     string
		sessionID   string
		bookingID   string
		interval    time.Duration
		maxAttempts int
	)
	flag.StringVar(&baseURL, "base-url", "http://localhost:8080", "booking service base URL")
	flag.StringVar(&sessionID, "session-id", "", "checkout session reference from the return URL")
	flag.StringVar(&bookingID, "booking-id", "", "booking id, used when no session id is known")
	flag.DurationVar(&interval, "interval", poller.DefaultInterval, "pause between status checks")
	flag.IntVar(&maxAttempts, "max-attempts", poller.DefaultMaxAttempts, "status checks before giving up")
	flag.Parse()

	if sessionID == "" && bookingID == "" {
		log.Fatal("one of -session-id or -booking-id is required")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := poller.New(poller.NewHTTPVerifier(baseURL), logger)
	p.Interval = interval
	p.MaxAttempts = maxAttempts

	result, err := p.Poll(ctx, poller.Ref{SessionID: sessionID, BookingID: bookingID})
	if err != nil {
		log.Fatalf("polling stopped: %v", err)
	}

	if result.StillProcessing {
		fmt.Fprintf(os.Stderr, "Still processing after %d checks. The buyer will be notified when it completes.\n", result.Attempts)
	}
	if result.Status != nil {
		out, _ := json.MarshalIndent(result.Status, "", "  ")
		fmt.Println(string(out))
	}
}
