package event

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformed is matched by every validation failure.
var ErrMalformed = errors.New("malformed event")

// ValidationError describes why an event was rejected at the boundary.
type ValidationError struct {
	ClientID string
	Kind     Kind
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed %s event %q: field %q %s", e.Kind, e.ClientID, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s event %q: %s", e.Kind, e.ClientID, e.Reason)
}

// Is lets errors.Is(err, ErrMalformed) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrMalformed
}

// IsMalformed reports whether err is a validation failure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// MaxSoilCost bounds soilCost. No planting can cost more than the soil
// capacity ceiling.
const MaxSoilCost = 120

type fieldType int

const (
	typeID fieldType = iota + 1 // non-blank string
	typeText                    // any string
	typeNumber
	typeCost // integer in [0, MaxSoilCost]
	typeResult
	typeSeason
	typeEnvironment
)

type fieldRule struct {
	name     string
	typ      fieldType
	required bool
}

// schemas lists the payload fields of each known kind.
var schemas = map[Kind][]fieldRule{
	KindSproutPlanted: {
		{FieldSproutID, typeID, true},
		{FieldTwigID, typeID, true},
		{FieldTitle, typeText, true},
		{FieldSeason, typeSeason, true},
		{FieldEnvironment, typeEnvironment, true},
		{FieldSoilCost, typeCost, true},
		{FieldLeafID, typeID, false},
		{FieldBloomWither, typeText, false},
		{FieldBloomBudding, typeText, false},
		{FieldBloomFlourish, typeText, false},
	},
	KindSproutWatered: {
		{FieldSproutID, typeID, true},
		{FieldContent, typeText, true},
		{FieldPrompt, typeText, false},
	},
	KindSproutHarvested: {
		{FieldSproutID, typeID, true},
		{FieldResult, typeResult, true},
		{FieldCapacityGained, typeNumber, true},
		{FieldReflection, typeText, false},
	},
	KindSproutUprooted: {
		{FieldSproutID, typeID, true},
		{FieldSoilReturned, typeNumber, true},
	},
	KindSunShone: {
		{FieldTwigID, typeID, true},
		{FieldTwigLabel, typeText, true},
		{FieldContent, typeText, true},
		{FieldPrompt, typeText, false},
	},
	KindLeafCreated: {
		{FieldLeafID, typeID, true},
		{FieldTwigID, typeID, true},
		{FieldName, typeText, true},
	},
}

// Validate checks the envelope and, for known kinds, the payload.
//
// Events of an unknown kind pass validation as long as the envelope is sound:
// they were written by a newer client and derivation skips them. Returns a
// *ValidationError for anything else.
func Validate(e Event) error {
	if strings.TrimSpace(e.ClientID) == "" {
		return &ValidationError{Kind: e.Kind, Reason: "missing client id"}
	}
	if e.ClientTimestamp.IsZero() {
		return &ValidationError{ClientID: e.ClientID, Kind: e.Kind, Reason: "missing client timestamp"}
	}
	if strings.TrimSpace(string(e.Kind)) == "" {
		return &ValidationError{ClientID: e.ClientID, Reason: "missing type"}
	}

	rules, ok := schemas[e.Kind]
	if !ok {
		return nil
	}

	for _, rule := range rules {
		v, present := e.Payload[rule.name]
		if !present {
			if rule.required {
				return &ValidationError{ClientID: e.ClientID, Kind: e.Kind, Field: rule.name, Reason: "is required"}
			}
			continue
		}
		if reason := checkField(rule.typ, v); reason != "" {
			return &ValidationError{ClientID: e.ClientID, Kind: e.Kind, Field: rule.name, Reason: reason}
		}
	}
	return nil
}

func checkField(typ fieldType, v Value) string {
	switch typ {
	case typeID:
		s, ok := v.(String)
		if !ok {
			return "must be a string"
		}
		if strings.TrimSpace(string(s)) == "" {
			return "must not be blank"
		}
	case typeText:
		if _, ok := v.(String); !ok {
			return "must be a string"
		}
	case typeNumber:
		n, ok := v.(Number)
		if !ok {
			return "must be a number"
		}
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return "must be finite"
		}
	case typeCost:
		n, ok := v.(Number)
		if !ok || math.IsInf(float64(n), 0) || float64(n) != math.Trunc(float64(n)) {
			return "must be an integer"
		}
		if n < 0 {
			return "must not be negative"
		}
		if n > MaxSoilCost {
			return fmt.Sprintf("must not exceed %d", MaxSoilCost)
		}
	case typeResult:
		n, ok := v.(Number)
		if !ok || float64(n) != math.Trunc(float64(n)) {
			return "must be an integer"
		}
		if n < 1 || n > 5 {
			return "must be between 1 and 5"
		}
	case typeSeason:
		s, ok := v.(String)
		if !ok || !Season(s).Valid() {
			return "must be a known season"
		}
	case typeEnvironment:
		s, ok := v.(String)
		if !ok || !Environment(s).Valid() {
			return "must be a known environment"
		}
	}
	return ""
}
