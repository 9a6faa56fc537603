package services

import (
	"context"
	"errors"
	"fmt"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

// emit encodes one event and sends it to every group, skipping exclude.
func emit(ctx context.Context, bus ports.Broadcaster, t domain.EventType, payload any, exclude domain.ConnectionID, groups ...domain.GroupKey) error {
	ev, err := domain.NewEvent(t, payload)
	if err != nil {
		return err
	}
	var errs []error
	for _, g := range groups {
		if err := bus.Broadcast(ctx, g, ev, exclude); err != nil {
			errs = append(errs, fmt.Errorf("broadcast %s to %s: %w", t, g, err))
		}
	}
	return errors.Join(errs...)
}
