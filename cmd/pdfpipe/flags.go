package main

import "time"

// EntityFlags Flag structs to decouple cobra from logic for testing.
type EntityFlags struct {
	Path string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type EnqueueFlags struct {
	ID      string
	Command string
	Args    []string
	WorkDir string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type ProcessFlags struct {
	ID string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type RunFlags struct {
	ConfigPath string
	Files      []string
	Concurrent int
	Verbose    bool
}

type ServeFlags struct {
	ConfigPath string
}
