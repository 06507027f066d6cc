// File: cmd/hioload-tcp-echo/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Echo server over the reactor facade.

package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/facade"
	"github.com/momentics/hioload-tcp/internal/logging"
)

type flags struct {
	ConfigFile string
	Host       string
	Port       int
	LogLevel   string
	KeepAlive  time.Duration
	Watch      bool
}

func main() {
	if err := newCommand(new(flags)).Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newCommand(f *flags) *cobra.Command {
	command := &cobra.Command{
		Use:   "hioload-tcp-echo",
		Short: "TCP echo server on a single-threaded reactor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
		SilenceUsage: true,
	}

	command.Flags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a TOML configuration file.")
	command.Flags().StringVar(&f.Host, "host", "", "Listen host; empty binds every interface.")
	command.Flags().IntVarP(&f.Port, "port", "p", 7000, "Listen port; 0 picks an ephemeral port.")
	command.Flags().StringVar(&f.LogLevel, "log-level", "", "Override the configured log level.")
	command.Flags().DurationVar(&f.KeepAlive, "keepalive", 0, "Override the TCP keepalive idle delay.")
	command.Flags().BoolVar(&f.Watch, "watch", false, "Reload log level and keepalive when the config file changes.")
	return command
}

func loadConfig(cmd *cobra.Command, f *flags) (*facade.Config, error) {
	cfg := facade.DefaultConfig()
	if f.ConfigFile != "" {
		loaded, err := facade.LoadConfig(f.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = f.Host
	}
	if cmd.Flags().Changed("port") || f.ConfigFile == "" {
		cfg.Port = f.Port
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.KeepAlive > 0 {
		cfg.KeepAlive = f.KeepAlive
	}
	return cfg, nil
}

func run(cmd *cobra.Command, f *flags) error {
	log := logging.NewLogger("cli")
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	srv, err := facade.NewServer(cfg)
	if err != nil {
		return err
	}
	_ = srv.OnErrorOccurred(func(err error) {
		log.WithError(err).Warn("server error")
	})
	_ = srv.OnClientConnected(func(c *facade.Conn) {
		entry := log.WithField("remote", c.RemoteAddress().String())
		entry.Debug("client connected")
		_ = c.OnErrorOccurred(func(err error) {
			entry.WithError(err).Debug("connection error")
		})
		go func() {
			n, err := io.Copy(c.Writer(), c.Reader())
			entry.WithField("bytes", n).WithError(err).Debug("echo finished")
			_ = c.Close()
		}()
	})

	if f.ConfigFile != "" {
		control.RegisterReloadHook(func() {
			next, err := facade.LoadConfig(f.ConfigFile)
			if err != nil {
				log.WithError(err).Warn("config reload failed")
				return
			}
			if f.LogLevel != "" {
				next.LogLevel = f.LogLevel
			}
			if err := srv.Control().SetConfig(next.Map()); err != nil {
				log.WithError(err).Warn("config reload rejected")
				return
			}
			log.WithField("file", f.ConfigFile).Info("config reloaded")
		})
		if f.Watch {
			watcher, err := control.WatchFile(f.ConfigFile, control.TriggerHotReloadSync)
			if err != nil {
				_ = srv.Close()
				return err
			}
			defer watcher.Close()
		}
	}

	if err := srv.Listen(cfg.Host, cfg.Port); err != nil {
		_ = srv.Close()
		return err
	}
	if err := srv.Start(); err != nil {
		_ = srv.Close()
		return err
	}

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(osSignals)
	for {
		sig := <-osSignals
		if sig == syscall.SIGHUP {
			control.TriggerHotReload()
			continue
		}
		log.WithField("signal", sig.String()).Info("shutting down")
		return srv.Shutdown()
	}
}
