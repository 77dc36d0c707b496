package database

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// ConnectNATS establishes a NATS connection for cross-node chat fan-out.
func ConnectNATS(url, appName string) (*nats.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url must not be empty")
	}

	conn, err := nats.Connect(url, nats.Name(appName))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to nats: %w", err)
	}

	return conn, nil
}
