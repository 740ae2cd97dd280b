// Package config holds the settings of a ring run, read from command line
// flags and optionally from a YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Verbose   bool          `yaml:"verbose"`
	Processes int           `yaml:"processes"`
	Holder    int           `yaml:"holder"`
	CSTime    time.Duration `yaml:"csTime"`
	HopDelay  time.Duration `yaml:"hopDelay"`
	Requests  int           `yaml:"requests"`
	OutFile   string        `yaml:"outFile"`
	TraceFile string        `yaml:"traceFile"`
	// Addresses switches to the TCP transport, process i listening on Addresses[i].
	Addresses []string `yaml:"addresses"`
}

func Default() Config {
	return Config{
		Processes: 3,
		Holder:    0,
		CSTime:    100 * time.Millisecond,
		HopDelay:  10 * time.Millisecond,
		Requests:  5,
		OutFile:   "mxOUT.txt",
		TraceFile: "trace.jsonl",
	}
}

// Parse reads the configuration from args (without the program name). Values
// from the -config file are used unless the matching flag is set explicitly.
// Positional arguments are the TCP addresses of the processes.
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("tokenring", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML file with the ring configuration")
	verbose := fs.Bool("v", cfg.Verbose, "Enable verbose (debug) logging")
	processes := fs.Int("n", cfg.Processes, "Number of processes in the ring (ignored when addresses are given)")
	holder := fs.Int("holder", cfg.Holder, "Process that starts with the token")
	csTime := fs.Duration("cs", cfg.CSTime, "Time spent inside the critical section")
	hopDelay := fs.Duration("hop", cfg.HopDelay, "Time an idle process keeps the token")
	requests := fs.Int("requests", cfg.Requests, "Requests issued by each process, 0 to run until interrupted")
	outFile := fs.String("out", cfg.OutFile, "File every critical section writes to")
	traceFile := fs.String("trace", cfg.TraceFile, "File the critical section events are dumped to")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return Config{}, err
		}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, apply func()) {
		if set[name] || *configPath == "" {
			apply()
		}
	}
	override("v", func() { cfg.Verbose = *verbose })
	override("n", func() { cfg.Processes = *processes })
	override("holder", func() { cfg.Holder = *holder })
	override("cs", func() { cfg.CSTime = *csTime })
	override("hop", func() { cfg.HopDelay = *hopDelay })
	override("requests", func() { cfg.Requests = *requests })
	override("out", func() { cfg.OutFile = *outFile })
	override("trace", func() { cfg.TraceFile = *traceFile })

	if fs.NArg() > 0 {
		cfg.Addresses = fs.Args()
	}
	if len(cfg.Addresses) > 0 {
		cfg.Processes = len(cfg.Addresses)
	}

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config.loadFile: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config.loadFile: parsing '%s': %w", path, err)
	}
	return nil
}

// Validate checks the settings that do not depend on the ring itself; ring
// size and holder are checked when the ring is built.
func (c Config) Validate() error {
	if c.CSTime < 0 || c.HopDelay < 0 {
		return fmt.Errorf("config.Validate: %w: negative durations", ErrInvalidConfig)
	}
	if c.Requests < 0 {
		return fmt.Errorf("config.Validate: %w: negative request count %d", ErrInvalidConfig, c.Requests)
	}
	if c.OutFile == "" || c.TraceFile == "" {
		return fmt.Errorf("config.Validate: %w: output and trace files are required", ErrInvalidConfig)
	}
	return nil
}
