package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/and161185/keycache/internal/model"
)

// Card types the CLI knows how to build.
const (
	typeWeb  = model.CardTypeWeb
	typeNote = "note"
)

// cardFields are the user-supplied parts of a card. Nil means "not given".
type cardFields struct {
	Type     *string
	Name     *string
	URL      *string
	Username *string
	Password *string
	Note     *string
}

// applyFields overlays f on base.
func applyFields(base model.CardClear, f cardFields) model.CardClear {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&base.Type, f.Type)
	set(&base.Name, f.Name)
	set(&base.URL, f.URL)
	set(&base.Username, f.Username)
	if f.Password != nil {
		base.Password = *f.Password
	}
	if f.Note != nil {
		base.Note = *f.Note
	}
	if base.Type == "" {
		base.Type = typeWeb
	}
	if base.Name == "" && base.URL != "" {
		if u, err := url.Parse(base.URL); err == nil && u.Host != "" {
			base.Name = u.Host
		}
	}
	return base
}

// validateCard checks the fields required by the card's type.
func validateCard(c model.CardClear) error {
	switch c.Type {
	case typeWeb:
		if c.URL == "" || c.Username == "" {
			return errors.New("web cards need --url and --username")
		}
		u, err := url.Parse(c.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid url %q", c.URL)
		}
	case typeNote:
		if c.Note == "" {
			return errors.New("note cards need --note")
		}
		if c.Name == "" {
			return errors.New("note cards need --name")
		}
	default:
		return fmt.Errorf("unknown card type %q (want %s or %s)", c.Type, typeWeb, typeNote)
	}
	return nil
}

// cardView is what show prints.
type cardView struct {
	ID      string           `json:"id"`
	Version string           `json:"version"`
	Card    *model.CardClear `json:"card,omitempty"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// label is the one-line summary used by list.
func label(c model.Card) string {
	if c.Clear == nil {
		return "(locked)"
	}
	parts := []string{c.Clear.Name}
	if c.Clear.Username != "" {
		parts = append(parts, c.Clear.Username)
	}
	if c.Clear.URL != "" && c.Clear.URL != c.Clear.Name {
		parts = append(parts, c.Clear.URL)
	}
	return strings.Join(parts, "  ")
}
