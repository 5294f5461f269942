package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

const (
	defaultDomain   = "trajectory"
	defaultMiners   = 8
	defaultMaxNoise = 2.0
)

// config defines the configuration options for calibrate.
type config struct {
	TaskFile string  `short:"f" long:"taskfile"  description:"Path to a YAML task configuration replacing the built-in task set"`
	Domain   string  `short:"d" long:"domain"    description:"Domain whose scoring configuration to calibrate"`
	Miners   uint    `short:"n" long:"miners"    description:"Number of synthetic miners"`
	MaxNoise float64 `short:"e" long:"max-noise" description:"Largest simulated error, in units of the dimension scales"`
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, error) {
	// Default config.
	cfg := config{
		Domain:   defaultDomain,
		Miners:   defaultMiners,
		MaxNoise: defaultMaxNoise,
	}

	// Parse command line options.
	if _, err := flags.Parse(&cfg); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		return nil, err
	}

	return &cfg, nil
}
