package fraud

import (
	"context"
	"fmt"
	"strings"

	"github.com/phishnet/phishnet/internal/logging"
)

// TravelController mutates a cardholder's travel-mode state. The change is
// prospective only: transactions already scored are never re-evaluated.
type TravelController struct {
	users UserStore
}

// NewTravelController creates a travel-mode controller.
func NewTravelController(users UserStore) *TravelController {
	return &TravelController{users: users}
}

// Enable turns travel mode on for a single trusted location, replacing any
// previous one. The location is trimmed and title-cased so "  new york "
// matches transaction locations recorded as "New York".
func (t *TravelController) Enable(ctx context.Context, userID, location string) (string, error) {
	loc := titleCase(strings.TrimSpace(location))
	if loc == "" {
		return "", fmt.Errorf("travel location is empty")
	}

	if err := t.users.SetTravelMode(ctx, userID, true, loc); err != nil {
		return "", fmt.Errorf("enable travel mode: %w", err)
	}

	logging.L(ctx).Info("travel mode enabled", "user_id", userID, "location", loc)
	return loc, nil
}

// Disable turns travel mode off and clears the trusted location.
func (t *TravelController) Disable(ctx context.Context, userID string) error {
	if err := t.users.SetTravelMode(ctx, userID, false, ""); err != nil {
		return fmt.Errorf("disable travel mode: %w", err)
	}

	logging.L(ctx).Info("travel mode disabled", "user_id", userID)
	return nil
}

// titleCase upper-cases the first letter of each space-separated word.
// Replies arrive lower-cased by the interpreter's normalization, so this
// restores the casing locations are stored under.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
