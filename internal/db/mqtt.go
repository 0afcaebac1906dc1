package db

import (
	"fmt"
	"time"

	"github.com/agazso/runtracker/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ConnectMQTT returns nil without error when no broker is configured.
func ConnectMQTT(cfg config.Config) (mqtt.Client, error) {
	if cfg.MQTTBroker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}
