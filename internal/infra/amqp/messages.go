package amqp

import (
	"encoding/json"

	"github.com/boddenberg/card-ledger-go/internal/domain"
)

// eventToJSON encodes a ledger event as the message body.
func eventToJSON(event domain.LedgerEvent) ([]byte, error) {
	return json.Marshal(event)
}

// EventFromJSON decodes a message body published by Publisher.
func EventFromJSON(data []byte) (*domain.LedgerEvent, error) {
	var event domain.LedgerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
