package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/agazso/runtracker/internal/config"
	"github.com/agazso/runtracker/internal/db"
	"github.com/agazso/runtracker/internal/export"
	"github.com/agazso/runtracker/internal/location"
	"github.com/agazso/runtracker/internal/tracking"
)

const defaultInterval = time.Second

// replay publishes the track points of a GPX file to a device's location
// topic, one per interval, as if the device were moving.
func main() {
	file, interval, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\nusage: %s <file.gpx> [interval_ms]\n", err, os.Args[0])
		os.Exit(1)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		log.Fatalf("read %s: %v", file, err)
	}
	fixes, err := export.ParseGPX(data)
	if err != nil {
		log.Fatalf("parse %s: %v", file, err)
	}

	cfg := config.Load()
	cfg.MQTTClientID = cfg.MQTTClientID + "-replay"
	client, err := db.ConnectMQTT(cfg)
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}
	if client == nil {
		log.Fatalf("MQTT_BROKER is not set")
	}
	defer client.Disconnect(250)

	topic := location.Topic(cfg.DeviceID, location.TopicLocation)
	log.Printf("replaying %d fixes to %s every %s", len(fixes), topic, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i, msg := range messages(fixes, time.Now(), interval) {
		if i > 0 {
			<-ticker.C
		}
		payload, _ := json.Marshal(msg)
		token := client.Publish(topic, 1, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("[ERROR] publish fix %d: %v", i, err)
			continue
		}
		log.Printf("published %d/%d: %s", i+1, len(fixes), payload)
	}
}

func parseArgs(args []string) (string, time.Duration, error) {
	if len(args) < 1 || args[0] == "" {
		return "", 0, fmt.Errorf("missing gpx file")
	}
	interval := defaultInterval
	if len(args) > 1 {
		ms, err := strconv.Atoi(args[1])
		if err != nil || ms <= 0 {
			return "", 0, fmt.Errorf("interval must be a positive integer")
		}
		interval = time.Duration(ms) * time.Millisecond
	}
	return args[0], interval, nil
}

// messages turns fixes into device messages. Fixes without a timestamp are
// stamped from start, one interval apart.
func messages(fixes []tracking.Fix, start time.Time, interval time.Duration) []location.Message {
	out := make([]location.Message, len(fixes))
	for i, f := range fixes {
		at := f.RecordedAt
		if at.IsZero() {
			at = start.Add(time.Duration(i) * interval)
		}
		out[i] = location.Message{
			Latitude:  f.Lat,
			Longitude: f.Lng,
			Accuracy:  f.Accuracy,
			Altitude:  f.AltitudeM,
			Speed:     f.SpeedMps,
			Bearing:   f.Bearing,
			Time:      at.UnixMilli(),
			Provider:  "replay",
		}
	}
	return out
}
