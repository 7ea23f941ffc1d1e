package reconcile

import (
	"encoding/json"

	"github.com/retrovue/core/internal/model"
)

func unmarshalPayload(env model.Envelope, v interface{}) error {
	return json.Unmarshal(env.Payload, v)
}
