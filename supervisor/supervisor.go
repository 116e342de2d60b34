package supervisor

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"taskmaster/clock"
	"taskmaster/config"
	"taskmaster/history"
	"taskmaster/log"
	"taskmaster/proc"
	"taskmaster/watcher"
)

// Supervisor wires the long-lived resources around one Core: logger,
// history journal, scheduler, reaper, signal pump, and the optional config
// watcher. The CLI builds one, starts it, runs the REPL against Core(), and
// closes it on the way out.
//
// Usage:
//
//	settings, _ := config.LoadSettings("")
//	cfg, _ := config.Load("taskmaster.yaml")
//	sup, err := supervisor.New(settings, cfg)
//	if err != nil { ... }
//	defer sup.Close()
//	sup.Start()
//	repl.New(sup.Core(), os.Stdin, os.Stdout).Run()
//	sup.Wait()
type Supervisor struct {
	settings *config.Settings
	cfg      *config.Config
	logger   *log.Logger
	journal  *history.DB
	sched    *clock.RealScheduler
	reaper   *proc.Reaper
	core     *Core
	sigCh    chan os.Signal
	watch    *watcher.Watcher
}

// New creates a supervisor from loaded settings and program configuration.
// The caller owns Close.
func New(settings *config.Settings, cfg *config.Config) (*Supervisor, error) {
	logger, err := log.NewLogger(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	journal, err := history.OpenDB(settings.HistoryPath)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to open history journal: %w", err)
	}

	sched := clock.NewRealScheduler()
	reaper := proc.NewReaper(sched)
	sigCh := make(chan os.Signal, 8)

	core := NewCore(Options{
		Config:     cfg,
		LoadConfig: func() (*config.Config, error) { return config.Load(cfg.Path) },
		Launcher:   proc.NewExecLauncher(),
		Scheduler:  sched,
		Exits:      reaper.Events(),
		Signals:    sigCh,
		Journal:    journal,
		Logger:     logger,
	})

	return &Supervisor{
		settings: settings,
		cfg:      cfg,
		logger:   logger,
		journal:  journal,
		sched:    sched,
		reaper:   reaper,
		core:     core,
		sigCh:    sigCh,
	}, nil
}

// Core exposes the command surface for the control plane.
func (s *Supervisor) Core() *Core {
	return s.core
}

// Logger exposes the supervisor's file logger.
func (s *Supervisor) Logger() *log.Logger {
	return s.logger
}

// Start arms the reaper and signal pump and begins supervising. The event
// loop runs until shutdown completes; Wait blocks for it.
func (s *Supervisor) Start() {
	s.reaper.Start()
	signal.Notify(s.sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)

	if s.settings.WatchConfig && s.cfg.Path != "" {
		w, err := watcher.New(s.cfg.Path, func() {
			res := s.core.Post("reload", "")
			if res.Err != nil {
				s.logger.Error("watched reload failed: %v", res.Err)
			}
		})
		if err != nil {
			s.logger.Warn("config watch unavailable: %v", err)
		} else {
			s.watch = w
			s.logger.Info("watching %s for changes", s.cfg.Path)
		}
	}

	go s.core.Run()
	s.logger.Info("supervisor running, pid %d", os.Getpid())
}

// Wait blocks until the core has shut down.
func (s *Supervisor) Wait() {
	<-s.core.Done()
}

// Close releases everything Start acquired. Safe after Wait.
func (s *Supervisor) Close() {
	if s.watch != nil {
		s.watch.Close()
	}
	signal.Stop(s.sigCh)
	s.reaper.Stop()
	if err := s.journal.Close(); err != nil {
		s.logger.Error("journal close: %v", err)
	}
	s.logger.Close()
}
