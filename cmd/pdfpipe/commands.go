package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/loykin/pdfpipe"
)

// command holds CLI business logic decoupled from cobra wiring.
type command struct{}

// Run executes the pipeline locally for the given documents and blocks until
// every one of them is completed or failed.
func (command) Run(flags RunFlags) error {
	opts := pdfpipe.Options{ValidateEntity: true}
	if flags.ConfigPath != "" {
		cfg, err := pdfpipe.LoadConfig(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		pdfpipe.SetupLogging(cfg.LogLevel)
		opts = pdfpipe.Options{
			Supervisor:     cfg.Supervisor,
			Stages:         cfg.Stages,
			MaxActive:      cfg.MaxActive,
			ValidateEntity: cfg.ValidateEntity,
			HistoryDSN:     cfg.HistoryDSN,
			ProcessLog:     cfg.ProcessLog,
		}
	} else {
		pdfpipe.SetupLogging("info")
	}
	if flags.Concurrent > 0 {
		opts.Supervisor.MaxConcurrent = flags.Concurrent
		opts.MaxActive = flags.Concurrent
	}

	o, err := pdfpipe.New(opts)
	if err != nil {
		return err
	}
	defer o.Close()

	done := make(chan string, len(flags.Files))
	failed := make(chan string, len(flags.Files))
	unsubs := []func(){
		o.Bus().Subscribe(func(e pdfpipe.StageAdvancedEvent) {
			fmt.Printf("%s: stage %d (%s)\n", filepath.Base(e.Entity), e.StageIndex, e.Stage)
		}),
		o.Bus().Subscribe(func(e pdfpipe.ProcessProgressEvent) {
			fmt.Printf("  %s: %d%%\n", e.ID, e.Percent)
		}),
		o.Bus().Subscribe(func(e pdfpipe.EntityCompletedEvent) {
			done <- e.Entity
		}),
		o.Bus().Subscribe(func(e pdfpipe.EntityFailedEvent) {
			failed <- e.Entity
		}),
	}
	if flags.Verbose {
		unsubs = append(unsubs,
			o.Bus().Subscribe(func(e pdfpipe.ProcessOutputEvent) {
				fmt.Printf("  %s| %s\n", e.ID, e.Line)
			}),
			o.Bus().Subscribe(func(e pdfpipe.ProcessErrorEvent) {
				fmt.Fprintf(os.Stderr, "  %s! %s\n", e.ID, e.Line)
			}),
		)
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	accepted := 0
	for _, f := range flags.Files {
		if !o.Submit(f) {
			fmt.Fprintf(os.Stderr, "skipped %s: already tracked or not found\n", f)
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return fmt.Errorf("no documents accepted")
	}

	var failures []string
	for i := 0; i < accepted; i++ {
		select {
		case entity := <-done:
			fmt.Printf("%s: completed\n", filepath.Base(entity))
		case entity := <-failed:
			fmt.Printf("%s: FAILED\n", filepath.Base(entity))
			failures = append(failures, entity)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d document(s) failed", len(failures), accepted)
	}
	fmt.Printf("all %d document(s) completed\n", accepted)
	return nil
}

// Serve runs the daemon: HTTP API, optional metrics endpoint, until SIGINT/SIGTERM.
func (command) Serve(flags ServeFlags) error {
	if flags.ConfigPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}
	cfg, err := pdfpipe.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	pdfpipe.SetupLogging(cfg.LogLevel)

	o, err := pdfpipe.New(pdfpipe.Options{
		Supervisor:     cfg.Supervisor,
		Stages:         cfg.Stages,
		MaxActive:      cfg.MaxActive,
		ValidateEntity: cfg.ValidateEntity,
		HistoryDSN:     cfg.HistoryDSN,
		ProcessLog:     cfg.ProcessLog,
	})
	if err != nil {
		return err
	}
	defer o.Close()

	if cfg.MetricsListen != "" {
		if err := pdfpipe.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		go func() {
			if err := pdfpipe.ServeMetrics(cfg.MetricsListen); err != nil {
				fmt.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	server, err := pdfpipe.NewHTTPServer(cfg.Listen, cfg.APIBase, o)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	fmt.Printf("Starting pdfpipe server on %s%s\n", cfg.Listen, cfg.APIBase)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	return server.Close()
}

// Submit sends a document to a running daemon.
func (command) Submit(flags EntityFlags) error {
	client := NewAPIClient(flags.APIUrl, flags.APITimeout)
	if err := client.SubmitEntity(flags.Path); err != nil {
		return err
	}
	fmt.Printf("submitted %s\n", flags.Path)
	return nil
}

// Retry re-runs a failed document from the first stage.
func (command) Retry(flags EntityFlags) error {
	client := NewAPIClient(flags.APIUrl, flags.APITimeout)
	if err := client.RetryEntity(flags.Path); err != nil {
		return err
	}
	fmt.Printf("retrying %s\n", flags.Path)
	return nil
}

// CancelEntity cancels a pending or active document.
func (command) CancelEntity(flags EntityFlags) error {
	client := NewAPIClient(flags.APIUrl, flags.APITimeout)
	if err := client.CancelEntity(flags.Path); err != nil {
		return err
	}
	fmt.Printf("cancelled %s\n", flags.Path)
	return nil
}

// Status prints the pipeline status of one document, or the failed set and
// attempt history when no path is given.
func (command) Status(flags EntityFlags) error {
	client := NewAPIClient(flags.APIUrl, flags.APITimeout)
	if flags.Path != "" {
		st, err := client.EntityStatus(flags.Path)
		if err != nil {
			return err
		}
		return printJSON(st)
	}
	failed, err := client.Failed()
	if err != nil {
		return err
	}
	queued, running, err := client.Queue()
	if err != nil {
		return err
	}
	fmt.Printf("queue: %d queued, %d running, %d failed document(s)\n", queued, running, len(failed))
	for _, f := range failed {
		fmt.Printf("  failed: %s\n", f)
	}
	return nil
}

// History prints every stage attempt recorded by the daemon.
func (command) History(flags EntityFlags) error {
	client := NewAPIClient(flags.APIUrl, flags.APITimeout)
	hist, err := client.History()
	if err != nil {
		return err
	}
	return printJSON(hist)
}

// Enqueue queues a raw process invocation on the daemon.
func (command) Enqueue(flags EnqueueFlags) error {
	client := NewAPIClient(flags.APIUrl, flags.APITimeout)
	id, err := client.EnqueueProcess(flags.ID, flags.Command, flags.Args, flags.WorkDir)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s\n", id)
	return nil
}

// CancelProcess cancels one queued or running process.
func (command) CancelProcess(flags ProcessFlags) error {
	client := NewAPIClient(flags.APIUrl, flags.APITimeout)
	if err := client.CancelProcess(flags.ID); err != nil {
		return err
	}
	fmt.Printf("cancelled %s\n", flags.ID)
	return nil
}

// Processes prints every process record.
func (command) Processes(flags ProcessFlags) error {
	client := NewAPIClient(flags.APIUrl, flags.APITimeout)
	recs, err := client.Processes()
	if err != nil {
		return err
	}
	return printJSON(recs)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
