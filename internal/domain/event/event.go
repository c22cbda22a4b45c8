package event

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	TransactionSucceeded      Type = "TRANSACTION_SUCCEEDED"
	TransactionFailed         Type = "TRANSACTION_FAILED"
	TransactionPending        Type = "TRANSACTION_PENDING"
	AttentionRequired         Type = "ATTENTION_REQUIRED"
	TransactionRetryRequested Type = "TRANSACTION_RETRY_REQUESTED"
)

type Event struct {
	Type    Type
	Payload any
}

// DecodePayload restores the typed payload of an event read back from
// storage or the wire.
func DecodePayload(t Type, data []byte) (any, error) {
	switch t {
	case TransactionSucceeded, TransactionFailed, TransactionPending, AttentionRequired:
		var p TransactionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TransactionRetryRequested:
		var p RetryPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown event type %q", t)
}
