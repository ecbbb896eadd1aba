package jobs

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
)

// entityID extracts the payload's entity ID, which every handler except
// the global sweeps requires. A payload that cannot be decoded or is
// missing the ID is a permanent failure: retrying cannot repair it.
func entityID(job *domain.Job) (uuid.UUID, error) {
	payload, err := job.DecodePayload()
	if err != nil {
		return uuid.Nil, Permanent(err)
	}
	if payload.EntityID == uuid.Nil {
		return uuid.Nil, Permanent(fmt.Errorf("%w: payload entity_id is required", domain.ErrJobPayloadInvalid))
	}
	return payload.EntityID, nil
}
