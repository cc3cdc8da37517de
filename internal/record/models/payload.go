package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	dErrors "kycvault/pkg/domain-errors"
)

// Payload is the partial update produced by one verification call. Empty
// strings and nil pointers mean "absent"; absent fields never overwrite stored
// values. Keys outside the canonical schema are kept losslessly in Extensions.
type Payload struct {
	IDNumber string

	PANNumber      string
	AadhaarNumber  string
	VoterID        string
	DrivingLicense string
	PassportNumber string
	GSTIN          string
	TANNumber      string
	BankAccount    string

	FullName   string
	FirstName  string
	MiddleName string
	LastName   string
	FatherName string
	Gender     string
	DOB        string
	Category   string
	IsMinor    *bool
	Address    *Address

	PhoneNumber string
	Email       string

	CompanyName       string
	BusinessType      string
	IncorporationDate string

	IFSCCode   string
	BankName   string
	BranchName string
	UPIID      string

	AadhaarLinked   *bool
	DOBVerified     *bool
	ConfidenceScore *float64

	Extensions map[string]string

	// Raw is the verbatim provider data object, archived per verification type.
	Raw json.RawMessage
}

// envelope keys the provider mixes into root-level data objects
var reservedKeys = map[string]struct{}{
	"success":      {},
	"status_code":  {},
	"message":      {},
	"message_code": {},
}

var keyAliases = map[string]string{
	"mobile":        "phone_number",
	"mobile_number": "phone_number",
	"ifsc":          "ifsc_code",
	"address_data":  "address",
	"date_of_birth": "dob",
	"pan":           "pan_number",
	"aadhaar":       "aadhaar_number",
}

// ParsePayload decodes a provider data object into a Payload.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return Payload{}, dErrors.New(dErrors.CodeValidation, "payload must be a JSON object")
	}

	p := Payload{Raw: compact(raw)}
	var split []string

	// Sorted so alias collisions resolve the same way every time.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := strings.ToLower(strings.TrimSpace(key))
		if _, skip := reservedKeys[name]; skip {
			continue
		}
		if alias, ok := keyAliases[name]; ok {
			name = alias
		}
		value := obj[key]

		var err error
		switch name {
		case "full_name_split":
			split, err = decodeStrings(value)
		case "address":
			p.Address, err = decodeAddress(value)
		case "is_minor":
			p.IsMinor, err = decodeBool(value)
		case "aadhaar_linked":
			p.AadhaarLinked, err = decodeBool(value)
		case "dob_verified":
			p.DOBVerified, err = decodeBool(value)
		case "confidence_score":
			p.ConfidenceScore, err = decodeFloat(value)
		default:
			if target := p.textField(name); target != nil {
				var s string
				if s, err = decodeText(value); err == nil && s != "" {
					*target = s
				}
				break
			}
			// Bookkeeping names stay in Raw only.
			if IsCanonical(name) {
				break
			}
			if s, ok := extensionText(value); ok {
				if p.Extensions == nil {
					p.Extensions = make(map[string]string)
				}
				p.Extensions[strings.TrimSpace(key)] = s
			}
		}
		if err != nil {
			return Payload{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %q: %v", key, err))
		}
	}

	p.applyNameSplit(split)
	return p, nil
}

// Document returns the payload's value for a document field, normalized.
func (p Payload) Document(f DocumentField) string {
	if ptr := p.documentPtr(f); ptr != nil {
		return NormalizeDocument(*ptr)
	}
	return ""
}

// SetDocument sets a document field on the payload.
func (p *Payload) SetDocument(f DocumentField, v string) {
	if ptr := p.documentPtr(f); ptr != nil {
		*ptr = v
	}
}

// ExtensionNames returns the names of populated extension fields, sorted.
func (p Payload) ExtensionNames() []string {
	names := make([]string, 0, len(p.Extensions))
	for k, v := range p.Extensions {
		if v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Partial returns an Entity holding only the fields present in the payload.
func (p Payload) Partial() *Entity {
	e := &Entity{
		FullName: p.FullName, FirstName: p.FirstName, MiddleName: p.MiddleName,
		LastName: p.LastName, FatherName: p.FatherName, Gender: p.Gender,
		DOB: p.DOB, Category: p.Category, IsMinor: cloneBool(p.IsMinor),
		PhoneNumber: p.PhoneNumber, Email: p.Email,
		CompanyName: p.CompanyName, BusinessType: p.BusinessType, IncorporationDate: p.IncorporationDate,
		IFSCCode: p.IFSCCode, BankName: p.BankName, BranchName: p.BranchName, UPIID: p.UPIID,
		AadhaarLinked: cloneBool(p.AadhaarLinked), DOBVerified: cloneBool(p.DOBVerified),
	}
	for _, f := range DocumentPriority {
		e.SetDocument(f, p.Document(f))
	}
	if !p.Address.IsZero() {
		a := *p.Address
		e.Address = &a
	}
	if p.ConfidenceScore != nil {
		v := *p.ConfidenceScore
		e.ConfidenceScore = &v
	}
	if len(p.Extensions) > 0 {
		e.Extensions = make(map[string]string, len(p.Extensions))
		for k, v := range p.Extensions {
			if v != "" {
				e.Extensions[k] = v
			}
		}
	}
	return e
}

func (p *Payload) documentPtr(f DocumentField) *string {
	switch f {
	case DocPAN:
		return &p.PANNumber
	case DocAadhaar:
		return &p.AadhaarNumber
	case DocVoterID:
		return &p.VoterID
	case DocDrivingLicense:
		return &p.DrivingLicense
	case DocPassport:
		return &p.PassportNumber
	case DocGSTIN:
		return &p.GSTIN
	case DocTAN:
		return &p.TANNumber
	case DocBankAccount:
		return &p.BankAccount
	}
	return nil
}

func (p *Payload) textField(name string) *string {
	if name == "id_number" {
		return &p.IDNumber
	}
	if ptr := p.documentPtr(DocumentField(name)); ptr != nil {
		return ptr
	}
	switch name {
	case "full_name":
		return &p.FullName
	case "first_name":
		return &p.FirstName
	case "middle_name":
		return &p.MiddleName
	case "last_name":
		return &p.LastName
	case "father_name":
		return &p.FatherName
	case "gender":
		return &p.Gender
	case "dob":
		return &p.DOB
	case "category":
		return &p.Category
	case "phone_number":
		return &p.PhoneNumber
	case "email":
		return &p.Email
	case "company_name":
		return &p.CompanyName
	case "business_type":
		return &p.BusinessType
	case "incorporation_date":
		return &p.IncorporationDate
	case "ifsc_code":
		return &p.IFSCCode
	case "bank_name":
		return &p.BankName
	case "branch_name":
		return &p.BranchName
	case "upi_id":
		return &p.UPIID
	}
	return nil
}

func (p *Payload) applyNameSplit(parts []string) {
	var clean []string
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return
	}
	if p.FirstName == "" {
		p.FirstName = clean[0]
	}
	if len(clean) >= 2 && p.LastName == "" {
		p.LastName = clean[len(clean)-1]
	}
	if len(clean) >= 3 && p.MiddleName == "" {
		p.MiddleName = strings.Join(clean[1:len(clean)-1], " ")
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

func decodeText(raw json.RawMessage) (string, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("expected a scalar value")
	}
}

func decodeBool(raw json.RawMessage) (*bool, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return &t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("expected a boolean")
		}
		return &b, nil
	case json.Number:
		b := t.String() != "0"
		return &b, nil
	default:
		return nil, fmt.Errorf("expected a boolean")
	}
}

func decodeFloat(raw json.RawMessage) (*float64, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("expected a number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("expected a number")
	}
	return &f, nil
}

func decodeStrings(raw json.RawMessage) ([]string, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("expected a list of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func decodeAddress(raw json.RawMessage) (*Address, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return &Address{Full: strings.TrimSpace(t)}, nil
	case map[string]any:
		a := &Address{
			Line1:      scalar(t, "line_1", "line1", "house"),
			Line2:      scalar(t, "line_2", "line2", "landmark"),
			Street:     scalar(t, "street_name", "street"),
			City:       scalar(t, "city", "dist", "district"),
			State:      scalar(t, "state"),
			Country:    scalar(t, "country"),
			PostalCode: scalar(t, "zip", "pincode", "postal_code"),
			Full:       scalar(t, "full", "full_address"),
		}
		if a.IsZero() {
			return nil, nil
		}
		return a, nil
	default:
		return nil, fmt.Errorf("expected an address object or string")
	}
}

func scalar(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch t := m[k].(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case json.Number:
			return t.String()
		}
	}
	return ""
}

func extensionText(raw json.RawMessage) (string, bool) {
	v, err := decodeValue(raw)
	if err != nil || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	return string(compact(raw)), true
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}
