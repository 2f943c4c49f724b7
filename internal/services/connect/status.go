package connect

import (
	"strings"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
)

// MapStatus derives the local connect status from a full external snapshot. Rules are
// evaluated in order; the first match wins.
func MapStatus(snap processor.AccountSnapshot) models.ConnectStatus {
	switch {
	case !snap.DetailsSubmitted:
		return models.ConnectNotStarted
	case len(snap.Requirements) > 0:
		return models.ConnectPending
	case snap.DisabledReason != "":
		if strings.HasPrefix(snap.DisabledReason, "rejected") {
			return models.ConnectRejected
		}
		return models.ConnectRestricted
	case snap.PayoutsEnabled && snap.ChargesEnabled:
		return models.ConnectEnabled
	default:
		return models.ConnectPending
	}
}
