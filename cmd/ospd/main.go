// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"net/http"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
)

// waitSigint blocks until a SIGINT arrives.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("cmd/ospd: failed to set log level")
		} else {
			log.SetLevel(lvl)
		}
	}
	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		log.Warn("cmd/ospd: unknown logging format")
	}
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	cfg, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("cmd/ospd: failed to parse config")
	}
	configureLogging(cfg.Logging)

	d, err := newDaemon(cfg)
	if err != nil {
		log.WithError(err).Fatal("cmd/ospd: failed to construct daemon")
	}
	if err := d.Start(); err != nil {
		log.WithError(err).Fatal("cmd/ospd: failed to start daemon")
	}

	if cfg.Debug.Listen != "" {
		srv := newDebugServer(d)
		httpServer := &http.Server{Addr: cfg.Debug.Listen, Handler: srv.router()}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("cmd/ospd: debug HTTP server stopped")
			}
		}()
		defer httpServer.Close()
	}

	log.WithField("instance", cfg.Publisher.InstanceName).Info("cmd/ospd: running")
	waitSigint()
	log.Info("cmd/ospd: shutting down")

	d.Close()
}
