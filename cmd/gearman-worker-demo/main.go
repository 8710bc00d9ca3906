package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gearman-go/gasync/internal/gearman/alerting"
	"github.com/gearman-go/gasync/internal/gearman/audit"
	"github.com/gearman-go/gasync/internal/gearman/endpoint"
	"github.com/gearman-go/gasync/internal/gearman/eventbus"
	"github.com/gearman-go/gasync/internal/gearman/healthcache"
	"github.com/gearman-go/gasync/internal/gearman/pool"
	"github.com/gearman-go/gasync/internal/gearman/stats"
	"github.com/gearman-go/gasync/internal/queue"
	"github.com/redis/go-redis/v9"

	"github.com/gearman-go/gasync/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting gasync Worker...")

	var collaborators []endpoint.Observer
	var health *healthcache.Cache

	roller := stats.NewRoller()
	collaborators = append(collaborators, roller)

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		health = healthcache.New(redisClient)
		collaborators = append(collaborators, health)
		fmt.Println("Health cache mirroring to Redis enabled")
	}

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, 4, 1); err != nil {
		fmt.Printf("Note: topic creation failed (may already exist): %v\n", err)
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	bus := eventbus.New(producer)
	defer bus.Close()
	collaborators = append(collaborators, bus)
	fmt.Printf("Event bus publishing to topic %q\n", cfg.Kafka.TopicEvents)

	if db, err := audit.Connect(cfg.Database.ConnectionString()); err != nil {
		fmt.Printf("Note: audit database unavailable, skipping audit sink: %v\n", err)
	} else {
		defer db.Close()
		sink := audit.NewSink(db, 100, 5*time.Second)
		sink.Start()
		defer sink.Stop()
		collaborators = append(collaborators, sink)
		fmt.Println("Audit sink started")
	}

	if cfg.SMTP.Username != "" {
		collaborators = append(collaborators, alerting.NewNotifier(&cfg.SMTP, cfg.Alerting.Cooldown))
		fmt.Println("Failure alerting enabled")
	}

	observer := endpoint.MultiObserver(collaborators)

	p := pool.NewPool(cfg.Gearman.PoolMaxSize)
	if health != nil {
		p.SetHealthChecker(health)
	}
	for _, host := range cfg.Gearman.Hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		ep := endpoint.New(endpoint.NewHostSpec(host), observer)

		ep.GetInReadyState(
			func() { fmt.Printf("worker ready on %s\n", host) },
			func() { fmt.Printf("worker failed to connect to %s\n", host) },
		)

		if err := p.Register("workers", ep); err != nil {
			log.Printf("Register(%s) failed: %v", host, err)
		}
	}
	fmt.Printf("Registered %d job server(s)\n", p.Count())

	if err := p.RegisterFunction("reverse", reverseJob); err != nil {
		log.Printf("RegisterFunction(reverse) failed on some endpoint: %v", err)
	}
	if err := p.RegisterFunction("uppercase", uppercaseJob); err != nil {
		log.Printf("RegisterFunction(uppercase) failed on some endpoint: %v", err)
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			s := p.Stats()
			fmt.Printf("\n--- Worker Pool Statistics ---\n")
			fmt.Printf("Endpoints: %d / %d\n", s.TotalEndpoints, s.MaxSize)
			fmt.Printf("Dead: %v\n", p.DeadEndpoints())
			for _, b := range roller.Snapshot() {
				fmt.Printf("  %s completed=%d failed=%d exceptions=%d connects=%d disconnects=%d\n",
					b.HourStart.Format(time.RFC3339), b.Completed, b.Failed, b.Exceptions, b.Connects, b.Disconnects)
			}
			fmt.Printf("------------------------------\n\n")
		}
	}()

	fmt.Println("\n✓ gasync Worker is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	shutdownReason := fmt.Errorf("gasync worker: shutting down on signal")
	for _, host := range p.GetGroup("workers") {
		host.Close(shutdownReason)
		host.Shutdown()
	}
}

func reverseJob(job *endpoint.Job) {
	runes := []rune(string(job.Payload))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	if err := job.Complete([]byte(string(runes))); err != nil {
		log.Printf("reverse job %s: complete failed: %v", job.Handle, err)
	}
}

func uppercaseJob(job *endpoint.Job) {
	if err := job.Complete([]byte(strings.ToUpper(string(job.Payload)))); err != nil {
		log.Printf("uppercase job %s: complete failed: %v", job.Handle, err)
	}
}
