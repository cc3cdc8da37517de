package models

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

const (
	StatusVerified = "verified"
	StatusSuccess  = "success"
)

// Entity is one logical identity (person or organization) accumulated across
// verification calls.
type Entity struct {
	ID string `json:"id"`

	PANNumber      string `json:"pan_number,omitempty"`
	AadhaarNumber  string `json:"aadhaar_number,omitempty"`
	VoterID        string `json:"voter_id,omitempty"`
	DrivingLicense string `json:"driving_license,omitempty"`
	PassportNumber string `json:"passport_number,omitempty"`
	GSTIN          string `json:"gstin,omitempty"`
	TANNumber      string `json:"tan_number,omitempty"`
	BankAccount    string `json:"bank_account,omitempty"`

	FullName   string   `json:"full_name,omitempty"`
	FirstName  string   `json:"first_name,omitempty"`
	MiddleName string   `json:"middle_name,omitempty"`
	LastName   string   `json:"last_name,omitempty"`
	FatherName string   `json:"father_name,omitempty"`
	Gender     string   `json:"gender,omitempty"`
	DOB        string   `json:"dob,omitempty"`
	Category   string   `json:"category,omitempty"`
	IsMinor    *bool    `json:"is_minor,omitempty"`
	Address    *Address `json:"address,omitempty"`

	PhoneNumber string `json:"phone_number,omitempty"`
	Email       string `json:"email,omitempty"`

	CompanyName       string `json:"company_name,omitempty"`
	BusinessType      string `json:"business_type,omitempty"`
	IncorporationDate string `json:"incorporation_date,omitempty"`

	IFSCCode   string `json:"ifsc_code,omitempty"`
	BankName   string `json:"bank_name,omitempty"`
	BranchName string `json:"branch_name,omitempty"`
	UPIID      string `json:"upi_id,omitempty"`

	AadhaarLinked *bool `json:"aadhaar_linked,omitempty"`
	DOBVerified   *bool `json:"dob_verified,omitempty"`

	VerificationStatus   string   `json:"verification_status,omitempty"`
	LastVerificationType string   `json:"last_verification_type,omitempty"`
	VerificationSource   string   `json:"verification_source,omitempty"`
	VerificationCount    int      `json:"verification_count"`
	ConfidenceScore      *float64 `json:"confidence_score,omitempty"`

	History      []HistoryEntry             `json:"verification_history,omitempty"`
	RawResponses map[string]json.RawMessage `json:"raw_responses,omitempty"`
	Extensions   map[string]string          `json:"extensions,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

// Address is the structured address with a denormalized full-text form.
type Address struct {
	Line1      string `json:"line_1,omitempty"`
	Line2      string `json:"line_2,omitempty"`
	Street     string `json:"street_name,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"zip,omitempty"`
	Full       string `json:"full,omitempty"`
}

// IsZero reports whether no address component is set.
func (a *Address) IsZero() bool {
	return a == nil || *a == Address{}
}

// HistoryEntry records one verification applied to an entity.
type HistoryEntry struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Endpoint  string    `json:"endpoint,omitempty"`
}

// Document returns the value of a document-number field.
func (e *Entity) Document(f DocumentField) string {
	if p := e.documentPtr(f); p != nil {
		return *p
	}
	return ""
}

// SetDocument sets a document-number field to its normalized form. Empty
// values are ignored so a document number is never cleared.
func (e *Entity) SetDocument(f DocumentField, v string) {
	v = NormalizeDocument(v)
	if v == "" {
		return
	}
	if p := e.documentPtr(f); p != nil {
		*p = v
	}
}

// Documents returns every populated document number in priority order.
func (e *Entity) Documents() []DocumentKey {
	var keys []DocumentKey
	for _, f := range DocumentPriority {
		if v := e.Document(f); v != "" {
			keys = append(keys, DocumentKey{Field: f, Value: v})
		}
	}
	return keys
}

func (e *Entity) documentPtr(f DocumentField) *string {
	switch f {
	case DocPAN:
		return &e.PANNumber
	case DocAadhaar:
		return &e.AadhaarNumber
	case DocVoterID:
		return &e.VoterID
	case DocDrivingLicense:
		return &e.DrivingLicense
	case DocPassport:
		return &e.PassportNumber
	case DocGSTIN:
		return &e.GSTIN
	case DocTAN:
		return &e.TANNumber
	case DocBankAccount:
		return &e.BankAccount
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.IsMinor = cloneBool(e.IsMinor)
	c.AadhaarLinked = cloneBool(e.AadhaarLinked)
	c.DOBVerified = cloneBool(e.DOBVerified)
	if e.ConfidenceScore != nil {
		v := *e.ConfidenceScore
		c.ConfidenceScore = &v
	}
	if e.Address != nil {
		a := *e.Address
		c.Address = &a
	}
	c.History = slices.Clone(e.History)
	if e.RawResponses != nil {
		c.RawResponses = make(map[string]json.RawMessage, len(e.RawResponses))
		for k, v := range e.RawResponses {
			c.RawResponses[k] = slices.Clone(v)
		}
	}
	c.Extensions = maps.Clone(e.Extensions)
	return &c
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
