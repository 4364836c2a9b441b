// Package codec converts card fields between their wire form (JSON lists) and
// the comma-joined text used by the editable grid, and cleans write payloads.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Card field names as they appear on the wire.
const (
	FieldID              = "_id"
	FieldName            = "name"
	FieldDesignation     = "designation"
	FieldCompany         = "company"
	FieldPhoneNumbers    = "phone_numbers"
	FieldEmail           = "email"
	FieldWebsite         = "website"
	FieldAddress         = "address"
	FieldSocialLinks     = "social_links"
	FieldMoreDetails     = "more_details"
	FieldAdditionalNotes = "additional_notes"
	FieldCreatedAt       = "created_at"
	FieldEditedAt        = "edited_at"
)

// EditableFields is the fixed, ordered set of user-editable columns.
var EditableFields = []string{
	FieldName,
	FieldDesignation,
	FieldCompany,
	FieldPhoneNumbers,
	FieldEmail,
	FieldWebsite,
	FieldAddress,
	FieldSocialLinks,
	FieldMoreDetails,
	FieldAdditionalNotes,
}

// GridColumns is the display order of the editable grid and of exports.
var GridColumns = append(append([]string{}, EditableFields...), FieldCreatedAt, FieldEditedAt)

// IsListField reports whether the field is carried as a list on the wire.
func IsListField(field string) bool {
	return field == FieldPhoneNumbers || field == FieldSocialLinks
}

// IsReadOnlyField reports whether the field is owned by the backend and must
// never appear in a write payload.
func IsReadOnlyField(field string) bool {
	switch field {
	case FieldID, FieldCreatedAt, FieldEditedAt:
		return true
	}
	return false
}

// IDString normalizes a backend identifier to its string form. Identifiers may
// arrive as strings, JSON numbers or Mongo-style {"$oid": "..."} objects; every
// code path that addresses a card goes through this function.
func IDString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case map[string]any:
		if oid, ok := id["$oid"]; ok {
			return IDString(oid)
		}
		raw, err := json.Marshal(id)
		if err != nil {
			return fmt.Sprint(id)
		}
		return string(raw)
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}
