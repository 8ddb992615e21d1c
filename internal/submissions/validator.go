package submissions

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// e164Pattern: '+', a first digit 1-9, then 9 to 14 more digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{9,14}$`)

// ValidPhone reports whether s is an E.164 number. The whole string must match.
func ValidPhone(s string) bool {
	return e164Pattern.MatchString(s)
}

// Validate checks a request in order and reports the first failure only:
// required text fields, then consent, then the phone grammar.
func Validate(req SubmissionRequest) (Accepted, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Accepted{}, &ValidationError{Kind: MissingField, Field: "name"}
	}
	if strings.TrimSpace(req.Phone) == "" {
		return Accepted{}, &ValidationError{Kind: MissingField, Field: "phone"}
	}
	product := strings.TrimSpace(req.Product)
	if product == "" {
		return Accepted{}, &ValidationError{Kind: MissingField, Field: "product"}
	}
	consent, ok := CoerceConsent(req.Consent)
	if !ok {
		return Accepted{}, &ValidationError{Kind: MissingConsent}
	}
	if !ValidPhone(req.Phone) {
		return Accepted{}, &ValidationError{Kind: InvalidPhoneFormat}
	}
	return Accepted{
		Name:    name,
		Phone:   req.Phone,
		Product: product,
		Consent: consent,
	}, nil
}

// CoerceConsent interprets a raw JSON value as a boolean. Accepted forms are
// JSON booleans, the numbers 0 and 1, and strings understood by strconv.ParseBool.
func CoerceConsent(raw json.RawMessage) (bool, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, false
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case json.Number:
		switch t.String() {
		case "0":
			return false, true
		case "1":
			return true, true
		}
		return false, false
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}
