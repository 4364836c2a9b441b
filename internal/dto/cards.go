package dto

import (
	"github.com/octobees/cardscan/api/internal/entity"
	"github.com/octobees/cardscan/api/internal/service"
	"github.com/octobees/cardscan/api/internal/table"
)

// CardFields is a create or update payload keyed by field name. List fields
// may be sent as JSON arrays or as comma separated text.
type CardFields map[string]any

// SaveRequest carries a fetched grid and its edited form.
type SaveRequest struct {
	Original table.Snapshot `json:"original"`
	Edited   table.Snapshot `json:"edited"`
	// Match is "position" (default) or "id".
	Match string `json:"match,omitempty"`
}

// CardResponse returns a stored card alongside advisory field warnings. Card
// is null when the backend accepted the write without echoing it.
type CardResponse struct {
	Card     *entity.Card           `json:"card"`
	Warnings []service.FieldWarning `json:"warnings"`
}

// ValidateResponse lists warnings for a payload that was only checked.
type ValidateResponse struct {
	Warnings []service.FieldWarning `json:"warnings"`
}
