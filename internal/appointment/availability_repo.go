package appointment

import (
	"context"
	"fmt"

	"github.com/hackgods/clinic-appointments/internal/gateway"
)

// PutAvailability writes the doctor-keyed availability record. Availability
// is owned by doctors and maintained outside the booking flow (seed data,
// sweeper); the store only reads it.
func PutAvailability(ctx context.Context, gw gateway.Gateway, da DoctorAvailability) error {
	for _, b := range da.Blocks {
		if err := validateInterval(b.Start, b.End); err != nil {
			return err
		}
	}
	if err := gw.SetRecord(ctx, gateway.CollectionAvailableSlots, da.DoctorUID, encodeAvailability(da)); err != nil {
		return &GatewayError{Op: "put availability", Err: err}
	}
	return nil
}

// PruneElapsedAvailability drops blocks that ended at or before cutoff and
// rewrites the affected doctor records. It returns the number of blocks
// removed.
func PruneElapsedAvailability(ctx context.Context, gw gateway.Gateway, cutoff Millis) (int, error) {
	docs, err := gw.ListRecords(ctx, gateway.CollectionAvailableSlots, nil)
	if err != nil {
		return 0, &GatewayError{Op: "list availability", Err: err}
	}

	removed := 0
	for _, doc := range docs {
		da, err := decodeAvailability(doc)
		if err != nil {
			return removed, fmt.Errorf("availability %s: %w", doc.ID, err)
		}

		kept := da.Blocks[:0]
		for _, b := range da.Blocks {
			if b.End > cutoff {
				kept = append(kept, b)
			}
		}
		dropped := len(da.Blocks) - len(kept)
		if dropped == 0 {
			continue
		}
		da.Blocks = kept

		if err := gw.SetRecord(ctx, gateway.CollectionAvailableSlots, doc.ID, encodeAvailability(da)); err != nil {
			return removed, &GatewayError{Op: "prune availability", Err: err}
		}
		removed += dropped
	}

	return removed, nil
}
