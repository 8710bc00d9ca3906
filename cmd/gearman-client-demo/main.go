package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gearman-go/gasync/internal/gearman/endpoint"
	"github.com/gearman-go/gasync/internal/gearman/protocol"
)

// reverseTask is a sample Task submitting a "reverse" job and
// printing its outcome, standing in for whatever higher-level façade
// a real caller builds on top of the endpoint core.
type reverseTask struct {
	input string
	done  chan struct{}
}

func newReverseTask(input string) *reverseTask {
	return &reverseTask{
		input: input,
		done:  make(chan struct{}),
	}
}

func (t *reverseTask) SubmitPacketBytes() []byte {
	return protocol.Encode(protocol.VerbSubmitJob, []byte("reverse"), []byte{}, []byte(t.input))
}

func (t *reverseTask) Complete(payload []byte) {
	fmt.Printf("← %q reversed to %q\n", t.input, string(payload))
	close(t.done)
}

func (t *reverseTask) Fail() {
	fmt.Printf("← %q failed\n", t.input)
	close(t.done)
}

func (t *reverseTask) Status(num, den int) {
	fmt.Printf("  %q progress: %d/%d\n", t.input, num, den)
}

func (t *reverseTask) Exception(payload []byte) {
	fmt.Printf("← %q raised exception: %q\n", t.input, string(payload))
}

func main() {
	serverAddr := "localhost:7003"

	fmt.Printf("gasync Client Starting...\n")
	fmt.Printf("Server: %s\n\n", serverAddr)

	ep := endpoint.New(endpoint.NewHostSpec(serverAddr), nil)
	defer ep.Shutdown()

	ready := make(chan struct{})
	failed := make(chan struct{})
	ep.GetInReadyState(func() { close(ready) }, func() { close(failed) })

	select {
	case <-ready:
		fmt.Println("✓ Connected to job server")
	case <-failed:
		log.Fatalf("failed to connect to %s", serverAddr)
	case <-time.After(2 * time.Second):
		log.Fatalf("timed out waiting for connection to %s", serverAddr)
	}

	words := []string{"hello", "gearman", "async"}
	var wg sync.WaitGroup
	tasks := make([]*reverseTask, len(words))

	for i, w := range words {
		task := newReverseTask(w)
		tasks[i] = task
		if err := endpoint.AddTask(ep, task); err != nil {
			log.Printf("submit %q failed: %v", w, err)
			continue
		}
		fmt.Printf("→ submitted reverse(%q)\n", w)
	}

	for _, task := range tasks {
		wg.Add(1)
		go func(t *reverseTask) {
			defer wg.Done()
			<-t.done
		}(task)
	}
	wg.Wait()

	fmt.Println("\n✓ All tasks finished")
}
