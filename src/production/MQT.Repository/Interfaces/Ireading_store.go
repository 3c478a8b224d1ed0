package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Models"
)

// ReadingStore persists readings. Commit returns a *mqterrors.Error of kind
// store_unavailable when no connection could be made, or store_error when the
// write itself failed; in both cases nothing was written.
type ReadingStore interface {
	Commit(ctx context.Context, r mqtmodels.Reading) error
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Close() error
}
