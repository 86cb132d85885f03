package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/loykin/pdfpipe"
)

// This example loads a TOML config file and runs the configured pipeline
// using the public pdfpipe facade.
func main() {
	// Use the sample config in the repo (adjust path if running from a different cwd)
	cfgPath := filepath.Join("config", "config.toml")
	cfg, err := pdfpipe.LoadConfig(cfgPath)
	if err != nil {
		panic(err)
	}

	pdfpipe.SetupLogging(cfg.LogLevel)

	orch, err := pdfpipe.New(pdfpipe.Options{
		Supervisor:     cfg.Supervisor,
		Stages:         cfg.Stages,
		MaxActive:      cfg.MaxActive,
		ValidateEntity: cfg.ValidateEntity,
		HistoryDSN:     cfg.HistoryDSN,
		ProcessLog:     cfg.ProcessLog,
	})
	if err != nil {
		panic(err)
	}
	defer orch.Close()

	if !orch.Submit("book.pdf") {
		panic("submit rejected")
	}

	time.Sleep(2 * time.Second)

	st := orch.EntityStatus("book.pdf")
	b, _ := json.MarshalIndent(st, "", "  ")
	fmt.Println(string(b))
}
