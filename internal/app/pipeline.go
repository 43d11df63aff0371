// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/gait_computer/internal/bus"
	"github.com/relabs-tech/gait_computer/internal/capture"
	"github.com/relabs-tech/gait_computer/internal/config"
	"github.com/relabs-tech/gait_computer/internal/processing"
	"github.com/relabs-tech/gait_computer/internal/publish"
	"github.com/relabs-tech/gait_computer/internal/queue"
	"github.com/relabs-tech/gait_computer/internal/ringbuf"
	"github.com/relabs-tech/gait_computer/internal/sample"
	"github.com/relabs-tech/gait_computer/internal/sessionlog"
	"github.com/relabs-tech/gait_computer/internal/web"
)

const statusLogInterval = 5 * time.Second

// Status is served on /api/status and logged periodically.
type Status struct {
	SessionID string                         `json:"session_id"`
	Running   bool                           `json:"running"`
	Capture   capture.Stats                  `json:"capture"`
	Queue     queue.Stats                    `json:"queue"`
	Published uint64                         `json:"published"`
	Consumers map[string]bus.SubscriberStats `json:"consumers"`
}

// pipeline wires one capture session to every consumer the config enables.
type pipeline struct {
	cfg *config.Config

	queue   *queue.SampleQueue
	bus     *bus.Bus
	session *capture.Session
	history *ringbuf.History
	joints  *processing.JointTracker

	logger     *sessionlog.Logger
	mqttClient mqtt.Client
	publisher  *publish.Publisher
	web        *web.Server

	consumers []string
}

func newPipeline(cfg *config.Config) *pipeline {
	p := &pipeline{
		cfg:     cfg,
		queue:   queue.New(cfg.QueueCapacity),
		bus:     bus.New(),
		history: ringbuf.NewHistory(cfg.HistoryCapacity),
		joints:  processing.NewJointTracker(jointsFromConfig(cfg)),
	}
	p.session = capture.NewSession(p.queue, capture.Options{
		Processor:    processing.NewProcessor(sample.NodeID(cfg.LeftFootNode)),
		OnError:      newErrorReporter(),
		PollInterval: time.Duration(cfg.PollIntervalUs) * time.Microsecond,
	})
	return p
}

func jointsFromConfig(cfg *config.Config) []processing.Joint {
	return []processing.Joint{
		{Name: "left_knee", Proximal: sample.NodeID(cfg.LeftKneeProximal), Distal: sample.NodeID(cfg.LeftKneeDistal)},
		{Name: "right_knee", Proximal: sample.NodeID(cfg.RightKneeProximal), Distal: sample.NodeID(cfg.RightKneeDistal)},
	}
}

func rolesFromConfig(cfg *config.Config) []sessionlog.Role {
	// Knee proximal nodes carry the bend sensors, distal nodes the insoles.
	return []sessionlog.Role{
		{Node: sample.NodeID(cfg.LeftKneeProximal), Leg: sample.KindFlex},
		{Node: sample.NodeID(cfg.RightKneeProximal), Leg: sample.KindFlex},
		{Node: sample.NodeID(cfg.LeftKneeDistal), Leg: sample.KindInsole},
		{Node: sample.NodeID(cfg.RightKneeDistal), Leg: sample.KindInsole},
	}
}

// newErrorReporter logs per-frame errors, rate limited so a noisy radio
// link does not flood the log.
func newErrorReporter() capture.ErrorHandler {
	var (
		mu    sync.Mutex
		count uint64
		last  time.Time
	)
	return func(err error) {
		mu.Lock()
		defer mu.Unlock()
		count++
		if time.Since(last) < time.Second {
			return
		}
		last = time.Now()
		log.Printf("capture: %v (%d frame errors so far)", err, count)
	}
}

func (p *pipeline) status() any {
	st := Status{
		SessionID: p.session.ID(),
		Running:   p.session.Running(),
		Capture:   p.session.Stats(),
		Queue:     p.queue.Stats(),
		Published: p.bus.Published(),
		Consumers: make(map[string]bus.SubscriberStats, len(p.consumers)),
	}
	for _, id := range p.consumers {
		if s, err := p.bus.Stats(id); err == nil {
			st.Consumers[id] = s
		}
	}
	return st
}

// openConsumers creates the sinks, tagging rows with the session id, then
// registers every consumer on the bus. Callbacks run in registration order.
func (p *pipeline) openConsumers(sessionID, source string) error {
	var sink sessionlog.Sink
	switch {
	case p.cfg.SQLitePath != "":
		s, err := sessionlog.NewSQLiteSink(p.cfg.SQLitePath, sessionID, source)
		if err != nil {
			return err
		}
		sink = s
		log.Printf("sessionlog: recording to %s", p.cfg.SQLitePath)
	case p.cfg.CSVPath != "":
		s, err := sessionlog.NewCSVSink(p.cfg.CSVPath)
		if err != nil {
			return err
		}
		sink = s
		log.Printf("sessionlog: recording to %s", p.cfg.CSVPath)
	}
	if sink != nil {
		p.logger = sessionlog.New(sink, rolesFromConfig(p.cfg))
		if err := p.subscribe("sessionlog", p.logger.Handle); err != nil {
			return err
		}
	}

	if err := p.subscribe("history", p.history.Add); err != nil {
		return err
	}
	if err := p.subscribe("joints", func(s sample.Sample) {
		for _, a := range p.joints.Update(s) {
			p.history.AddJoint(a)
		}
	}); err != nil {
		return err
	}

	if p.cfg.MQTTBroker != "" {
		codec, err := publish.CodecFor(p.cfg.MQTTEncoding)
		if err != nil {
			return err
		}
		client, err := publish.Dial(p.cfg.MQTTBroker, p.cfg.MQTTClientID)
		if err != nil {
			return err
		}
		p.mqttClient = client
		p.publisher = publish.NewPublisher(client, p.cfg.MQTTTopicPrefix, codec, p.joints)
	}

	if p.cfg.WebServerPort > 0 {
		p.web = web.NewServer(web.Options{
			History:      p.history,
			Joints:       p.joints,
			Bus:          p.bus,
			Status:       p.status,
			StaticDir:    p.cfg.WebStaticDir,
			StreamBuffer: p.cfg.SubscriberBuffer,
		})
	}
	return nil
}

func (p *pipeline) subscribe(id string, fn bus.Handler) error {
	if err := p.bus.Subscribe(id, fn); err != nil {
		return err
	}
	p.consumers = append(p.consumers, id)
	return nil
}

// run captures from src until ctx is done or, when untilExhausted is set,
// until src runs dry. Every consumer and the dispatcher are running before
// capture starts, so the bounded queue is drained from the first sample.
// Consumers are drained before it returns.
func (p *pipeline) run(ctx context.Context, src capture.Source, untilExhausted bool) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := uuid.NewString()
	defer p.closeConsumers(&err)
	if err := p.openConsumers(id, src.Name()); err != nil {
		return fmt.Errorf("opening consumers: %w", err)
	}

	var wg sync.WaitGroup
	if p.publisher != nil {
		ch, err := p.bus.SubscribeChan("mqtt", p.cfg.SubscriberBuffer)
		if err != nil {
			return err
		}
		p.consumers = append(p.consumers, "mqtt")
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.publisher.Run(ctx, ch)
		}()
	}
	if p.web != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.web.ListenAndServe(ctx, fmt.Sprintf(":%d", p.cfg.WebServerPort)); err != nil {
				log.Printf("web: %v", err)
			}
		}()
	}

	dispatched := make(chan error, 1)
	go func() { dispatched <- p.bus.Run(context.Background(), p.queue) }()

	// Stop capture, let the bus drain what is queued, then release
	// channel subscribers and the web server.
	shutdown := func() {
		p.session.Stop()
		p.queue.Close()
		if err := <-dispatched; err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("bus: %v", err)
		}
		p.bus.Close()
		cancel()
		wg.Wait()
	}

	if p.cfg.BinLogPath != "" {
		p.session.EnableLogging(p.cfg.BinLogPath)
	}
	if err := p.session.StartWithID(ctx, src, id); err != nil {
		shutdown()
		return err
	}

	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	exhausted := make(chan struct{})
	go func() {
		if untilExhausted {
			_ = p.session.Wait(ctx)
		} else {
			<-ctx.Done()
		}
		close(exhausted)
	}()

loop:
	for {
		select {
		case <-exhausted:
			break loop
		case <-ticker.C:
			p.logStatus()
		}
	}

	shutdown()
	p.logStatus()
	return nil
}

func (p *pipeline) logStatus() {
	st := p.session.Stats()
	q := p.queue.Stats()
	log.Printf("status: %s frames, %s samples, %d bad CRC, %d unknown, %d undecodable, %s dispatched, %d queue drops",
		humanize.Comma(int64(st.Frames)), humanize.Comma(int64(st.Samples)),
		st.ChecksumErrors, st.UnknownTypes, st.DecodeErrors,
		humanize.Comma(int64(p.bus.Published())), q.Dropped)
}

func (p *pipeline) closeConsumers(errp *error) {
	if p.logger != nil {
		if err := p.logger.Close(); err != nil && *errp == nil {
			*errp = fmt.Errorf("closing session log: %w", err)
		}
		log.Printf("sessionlog: %s rows written", humanize.Comma(int64(p.logger.Rows())))
	}
	if p.mqttClient != nil {
		p.mqttClient.Disconnect(250)
	}
}
