package entity

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/octobees/cardscan/api/internal/codec"
)

// Card is one scanned or manually entered business card as stored by the backend.
type Card struct {
	ID              string   `json:"_id"`
	Name            string   `json:"name"`
	Designation     string   `json:"designation"`
	Company         string   `json:"company"`
	PhoneNumbers    []string `json:"phone_numbers"`
	Email           string   `json:"email"`
	Website         string   `json:"website"`
	Address         string   `json:"address"`
	SocialLinks     []string `json:"social_links"`
	MoreDetails     string   `json:"more_details"`
	AdditionalNotes string   `json:"additional_notes"`
	CreatedAt       string   `json:"created_at,omitempty"`
	EditedAt        string   `json:"edited_at,omitempty"`
}

// UnmarshalJSON decodes a backend record leniently. Missing or null fields
// become empty values, list fields may arrive as comma-joined text, scalar
// fields may arrive as numbers, and the identifier may be any JSON value.
// Unknown keys such as field_validations are ignored.
func (c *Card) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode card: %w", err)
	}

	var card Card
	for key, value := range raw {
		decoded, err := decodeValue(value)
		if err != nil {
			return fmt.Errorf("decode card field %s: %w", key, err)
		}
		card.set(key, decoded)
	}
	if card.PhoneNumbers == nil {
		card.PhoneNumbers = []string{}
	}
	if card.SocialLinks == nil {
		card.SocialLinks = []string{}
	}

	*c = card
	return nil
}

// Fields returns the card as a wire-shaped map keyed by field name.
func (c Card) Fields() map[string]any {
	return map[string]any{
		codec.FieldID:              c.ID,
		codec.FieldName:            c.Name,
		codec.FieldDesignation:     c.Designation,
		codec.FieldCompany:         c.Company,
		codec.FieldPhoneNumbers:    nonNil(c.PhoneNumbers),
		codec.FieldEmail:           c.Email,
		codec.FieldWebsite:         c.Website,
		codec.FieldAddress:         c.Address,
		codec.FieldSocialLinks:     nonNil(c.SocialLinks),
		codec.FieldMoreDetails:     c.MoreDetails,
		codec.FieldAdditionalNotes: c.AdditionalNotes,
		codec.FieldCreatedAt:       c.CreatedAt,
		codec.FieldEditedAt:        c.EditedAt,
	}
}

func (c *Card) set(key string, value any) {
	if codec.IsListField(key) {
		var list []string
		switch v := value.(type) {
		case []any:
			list = make([]string, 0, len(v))
			for _, item := range v {
				if s := codec.Stringify(item); s != "" {
					list = append(list, s)
				}
			}
		default:
			list = codec.TextToListValue(v)
		}
		if key == codec.FieldPhoneNumbers {
			c.PhoneNumbers = list
		} else {
			c.SocialLinks = list
		}
		return
	}

	if key == codec.FieldID {
		c.ID = codec.IDString(value)
		return
	}

	text := codec.Stringify(value)
	switch key {
	case codec.FieldName:
		c.Name = text
	case codec.FieldDesignation:
		c.Designation = text
	case codec.FieldCompany:
		c.Company = text
	case codec.FieldEmail:
		c.Email = text
	case codec.FieldWebsite:
		c.Website = text
	case codec.FieldAddress:
		c.Address = text
	case codec.FieldMoreDetails:
		c.MoreDetails = text
	case codec.FieldAdditionalNotes:
		c.AdditionalNotes = text
	case codec.FieldCreatedAt:
		c.CreatedAt = text
	case codec.FieldEditedAt:
		c.EditedAt = text
	}
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
