// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package history defines the audit-log entry model shared by the live
// keyed store, the archiver, and the read paths.
//
// Every change to a tracked register record (processing activity,
// rights request, breach) appends one Entry to the live store. Entries
// are schema-agnostic beyond the fields the archiver inspects: module
// code paths may attach arbitrary extra fields, and those fields must
// survive archival unmodified.
package history

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Module identifies one of the three audit-logged register domains.
type Module string

const (
	// ModuleTraitement is the processing-activity register (registre des traitements).
	ModuleTraitement Module = "traitement"

	// ModuleDemande is the data-subject rights-request register.
	ModuleDemande Module = "demande"

	// ModuleViolation is the data-breach register.
	ModuleViolation Module = "violation"
)

// Modules returns all audit-logged modules in their fixed processing order.
func Modules() []Module {
	return []Module{ModuleTraitement, ModuleDemande, ModuleViolation}
}

// ParseModule validates a module name from an external source (URL path,
// config) and returns the typed module.
func ParseModule(s string) (Module, error) {
	switch Module(s) {
	case ModuleTraitement, ModuleDemande, ModuleViolation:
		return Module(s), nil
	default:
		return "", fmt.Errorf("unknown history module %q", s)
	}
}

// Action indicates what happened to the tracked record.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// FieldChange records the previous and new value of one changed field.
// Values are kept raw so primitives, arrays, and nested records pass
// through untouched.
type FieldChange struct {
	From json.RawMessage `json:"from"`
	To   json.RawMessage `json:"to"`
}

// Entry is one audit-log record. The typed fields are the ones the
// archiver and the UI inspect; everything else a module stored alongside
// them is carried in Extra and round-trips through JSON unchanged.
type Entry struct {
	// Key is the entry's live-store key: {module}_history:{tenantID}:{entryID}.
	Key string `json:"key"`

	// Timestamp is the creation time as an ISO-8601 string. Entries
	// written before timestamp tagging have none; their time is derived
	// from the key's entry-ID prefix instead (see EffectiveTimestamp).
	Timestamp string `json:"timestamp,omitempty"`

	// Action is created or updated.
	Action Action `json:"action,omitempty"`

	// Changes maps changed field names to their from/to values.
	// Present only when Action is updated.
	Changes map[string]FieldChange `json:"changes,omitempty"`

	// UserEmail and CreatedBy attribute the change. Nil means a
	// system-initiated change.
	UserEmail *string `json:"user_email,omitempty"`
	CreatedBy *string `json:"created_by,omitempty"`

	// Extra holds module-specific fields the envelope does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

// entryFields are the JSON keys owned by the typed envelope.
var entryFields = map[string]struct{}{
	"key":        {},
	"timestamp":  {},
	"action":     {},
	"changes":    {},
	"user_email": {},
	"created_by": {},
}

// UnmarshalJSON decodes the typed fields and collects everything else
// into Extra so unknown fields are never dropped.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Entry{}
	for k, v := range raw {
		var err error
		switch k {
		case "key":
			err = json.Unmarshal(v, &e.Key)
		case "timestamp":
			err = json.Unmarshal(v, &e.Timestamp)
		case "action":
			err = json.Unmarshal(v, &e.Action)
		case "changes":
			err = json.Unmarshal(v, &e.Changes)
		case "user_email":
			err = json.Unmarshal(v, &e.UserEmail)
		case "created_by":
			err = json.Unmarshal(v, &e.CreatedBy)
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[k] = v
		}
		if err != nil {
			return fmt.Errorf("history entry field %q: %w", k, err)
		}
	}
	return nil
}

// MarshalJSON emits the typed fields plus every Extra field as one flat
// object, the inverse of UnmarshalJSON.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Extra)+6)
	for k, v := range e.Extra {
		if _, owned := entryFields[k]; owned {
			continue
		}
		out[k] = v
	}

	put := func(key string, value interface{}) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("history entry field %q: %w", key, err)
		}
		out[key] = data
		return nil
	}

	if err := put("key", e.Key); err != nil {
		return nil, err
	}
	if e.Timestamp != "" {
		if err := put("timestamp", e.Timestamp); err != nil {
			return nil, err
		}
	}
	if e.Action != "" {
		if err := put("action", e.Action); err != nil {
			return nil, err
		}
	}
	if len(e.Changes) > 0 {
		if err := put("changes", e.Changes); err != nil {
			return nil, err
		}
	}
	if e.UserEmail != nil {
		if err := put("user_email", e.UserEmail); err != nil {
			return nil, err
		}
	}
	if e.CreatedBy != nil {
		if err := put("created_by", e.CreatedBy); err != nil {
			return nil, err
		}
	}

	return json.Marshal(out)
}

// ParsedTimestamp returns the stored timestamp as a time.Time.
// It accepts RFC3339 with or without sub-second precision (the formats
// the portal has ever written). Returns false when the field is absent
// or unparseable.
func (e *Entry) ParsedTimestamp() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
