package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gait_computer/internal/config"
	"github.com/relabs-tech/gait_computer/internal/processing"
	"github.com/relabs-tech/gait_computer/internal/publish"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

// RunConsole prints what a running pipeline publishes on MQTT until ctx is
// cancelled.
func RunConsole(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return errNoConfig
	}
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for the console")
	}
	codec, err := publish.CodecFor(cfg.MQTTEncoding)
	if err != nil {
		return err
	}

	client, err := publish.Dial(cfg.MQTTBroker, cfg.MQTTClientID+"-console")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	prefix := cfg.MQTTTopicPrefix
	nodes := prefix + "/node/+/+"
	token := client.Subscribe(nodes, 0, func(_ mqtt.Client, msg mqtt.Message) {
		_, kind, ok := publish.ParseNodeTopic(prefix, msg.Topic())
		if !ok {
			return
		}
		s, err := publish.DecodeSample(codec, kind, msg.Payload())
		if err != nil {
			log.Printf("console: %s: %v", msg.Topic(), err)
			return
		}
		printSample(os.Stdout, s)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", nodes)

	joints := publish.JointsTopic(prefix)
	token = client.Subscribe(joints, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var angles []processing.JointAngle
		if err := codec.Unmarshal(msg.Payload(), &angles); err != nil {
			log.Printf("console: joints unmarshal error: %v", err)
			return
		}
		printJoints(os.Stdout, angles)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", joints)

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}

func printSample(w io.Writer, s sample.Sample) {
	switch s.Kind {
	case sample.KindImu:
		e := s.Imu.Position.EulerOrientation
		a := s.Imu.Accel
		fmt.Fprintf(w, "[IMU-%d]  t=%9.1f  ROLL=%7.2f PITCH=%7.2f YAW=%7.2f  ax=%6.2f ay=%6.2f az=%6.2f  cal=%d%d%d%d\n",
			s.Imu.Node, s.Imu.TimestampMs, e.Roll, e.Pitch, e.Yaw, a.X, a.Y, a.Z,
			s.Imu.Calibration.Sys, s.Imu.Calibration.Accel, s.Imu.Calibration.Gyro, s.Imu.Calibration.Mag)
	case sample.KindFlex:
		fmt.Fprintf(w, "[FLEX-%d] t=%9.1f  R=%9.0f ohm\n",
			s.Flex.Raw.Node, s.Flex.Raw.TimestampMs, s.Flex.BendAngleDegrees)
	case sample.KindInsole:
		total := 0.0
		for _, f := range s.Insole.Forces {
			total += f
		}
		fmt.Fprintf(w, "[SOLE-%d] t=%9.1f  F=%9.0f  CoP=(%6.2f, %6.2f) cm\n",
			s.Insole.Raw.Node, s.Insole.Raw.TimestampMs, total, s.Insole.ForceCenterX, s.Insole.ForceCenterY)
	}
}

func printJoints(w io.Writer, angles []processing.JointAngle) {
	for _, a := range angles {
		fmt.Fprintf(w, "[JOINT]  %-10s %7.2f deg\n", a.Joint, a.Degrees)
	}
}
