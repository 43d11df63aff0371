// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package publish forwards processed samples and knee angles to an MQTT
// broker.
package publish

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gait_computer/internal/processing"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Dial connects to broker the way every binary here does.
func Dial(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	log.Printf("publish: connected to MQTT broker at %s", broker)
	return client, nil
}

// Publisher sends each sample on its node topic and, for IMU samples of a
// node whose joint has an angle, the joint angles on the joints topic.
// Messages are retained at QoS 0 so a late subscriber sees the latest state.
//
// The joint tracker is only read; whoever owns it feeds it IMU samples
// before they reach the publisher.
type Publisher struct {
	client Client
	prefix string
	codec  Codec
	joints *processing.JointTracker

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewPublisher returns a publisher. joints may be nil to skip joint angles.
func NewPublisher(client Client, prefix string, codec Codec, joints *processing.JointTracker) *Publisher {
	return &Publisher{
		client: client,
		prefix: prefix,
		codec:  codec,
		joints: joints,
	}
}

// Handle publishes one sample and waits for each send.
func (p *Publisher) Handle(s sample.Sample) {
	p.publish(NodeTopic(p.prefix, s.Node(), s.Kind), payload(s))

	if p.joints != nil && s.Kind == sample.KindImu && p.joints.HasAngle(s.Node()) {
		p.publish(JointsTopic(p.prefix), p.joints.Angles())
	}
}

// Run publishes everything received on ch until it is closed or ctx ends.
// Pair it with a bus channel subscription so a slow broker drops samples
// instead of stalling dispatch.
func (p *Publisher) Run(ctx context.Context, ch <-chan sample.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			p.Handle(s)
		}
	}
}

func (p *Publisher) publish(topic string, v any) {
	data, err := p.codec.Marshal(v)
	if err != nil {
		p.failed.Add(1)
		log.Printf("publish: marshal for %s: %v", topic, err)
		return
	}
	token := p.client.Publish(topic, 0, true, data)
	token.Wait()
	if err := token.Error(); err != nil {
		if p.failed.Add(1) == 1 {
			log.Printf("publish: %s: %v", topic, err)
		}
		return
	}
	p.sent.Add(1)
}

// Sent and Failed count messages, joints included.
func (p *Publisher) Sent() uint64   { return p.sent.Load() }
func (p *Publisher) Failed() uint64 { return p.failed.Load() }
