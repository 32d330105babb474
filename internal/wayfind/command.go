package wayfind

import (
	"context"
	"fmt"
)

// Command is a user intent dispatched to the controller.
type Command interface {
	command()
}

// LevelSelected selects a floor; an empty LevelID clears it.
type LevelSelected struct{ LevelID string }

// CategorySelected selects a category; an empty CategoryID returns to the
// root listing.
type CategorySelected struct{ CategoryID string }

// POISelected focuses a POI.
type POISelected struct{ FID string }

// RecenterRequested flies back to the home view.
type RecenterRequested struct{}

// ResetRequested clears floor and category.
type ResetRequested struct{}

func (LevelSelected) command()     {}
func (CategorySelected) command()  {}
func (POISelected) command()       {}
func (RecenterRequested) command() {}
func (ResetRequested) command()    {}

// Dispatch runs a command.
func (c *Controller) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd := cmd.(type) {
	case LevelSelected:
		return c.SelectLevel(ctx, cmd.LevelID)
	case CategorySelected:
		return c.SelectCategory(ctx, cmd.CategoryID)
	case POISelected:
		return c.SelectPOI(ctx, cmd.FID)
	case RecenterRequested:
		return c.Recenter(ctx)
	case ResetRequested:
		return c.Reset(ctx)
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
}
