package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind describes how a field is encoded as text.
type Kind int

const (
	KindText Kind = iota
	KindDocument
	KindBool
	KindNumber
	KindCount
	KindJSON
	KindTime
)

// Field is one canonical attribute of an Entity. Name is the payload/JSON key,
// Column the spreadsheet header. Audited fields take part in mutation diffs;
// bookkeeping fields (ids, counters, timestamps, archives) do not.
type Field struct {
	Name    string
	Column  string
	Kind    Kind
	Audited bool

	get func(*Entity) string
	set func(*Entity, string) error
}

// Get returns the text encoding of the field on e.
func (f Field) Get(e *Entity) string { return f.get(e) }

// Set decodes v into the field on e.
func (f Field) Set(e *Entity, v string) error {
	if err := f.set(e, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Name, err)
	}
	return nil
}

// TimeLayout is the text form of every timestamp the stores write.
const TimeLayout = time.RFC3339Nano

var fields = []Field{
	meta("id", "ID", func(e *Entity) *string { return &e.ID }),
	document(DocPAN, "PAN_Number"),
	document(DocAadhaar, "Aadhaar_Number"),
	document(DocVoterID, "Voter_ID"),
	document(DocDrivingLicense, "Driving_License"),
	document(DocPassport, "Passport_Number"),
	document(DocGSTIN, "GSTIN"),
	document(DocTAN, "TAN_Number"),
	document(DocBankAccount, "Bank_Account"),
	text("full_name", "Full_Name", func(e *Entity) *string { return &e.FullName }),
	text("first_name", "First_Name", func(e *Entity) *string { return &e.FirstName }),
	text("middle_name", "Middle_Name", func(e *Entity) *string { return &e.MiddleName }),
	text("last_name", "Last_Name", func(e *Entity) *string { return &e.LastName }),
	text("father_name", "Father_Name", func(e *Entity) *string { return &e.FatherName }),
	text("gender", "Gender", func(e *Entity) *string { return &e.Gender }),
	text("dob", "DOB", func(e *Entity) *string { return &e.DOB }),
	text("category", "Category", func(e *Entity) *string { return &e.Category }),
	flag("is_minor", "Is_Minor", func(e *Entity) **bool { return &e.IsMinor }),
	text("phone_number", "Phone_Number", func(e *Entity) *string { return &e.PhoneNumber }),
	text("email", "Email", func(e *Entity) *string { return &e.Email }),
	{
		Name: "address", Column: "Address_Data", Kind: KindJSON, Audited: true,
		get: func(e *Entity) string {
			if e.Address.IsZero() {
				return ""
			}
			return encodeJSON(e.Address)
		},
		set: func(e *Entity, v string) error {
			if v == "" {
				e.Address = nil
				return nil
			}
			var a Address
			if err := json.Unmarshal([]byte(v), &a); err != nil {
				// Older rows hold a plain address line.
				a = Address{Full: v}
			}
			e.Address = &a
			return nil
		},
	},
	text("company_name", "Company_Name", func(e *Entity) *string { return &e.CompanyName }),
	text("business_type", "Business_Type", func(e *Entity) *string { return &e.BusinessType }),
	text("incorporation_date", "Incorporation_Date", func(e *Entity) *string { return &e.IncorporationDate }),
	text("ifsc_code", "IFSC_Code", func(e *Entity) *string { return &e.IFSCCode }),
	text("bank_name", "Bank_Name", func(e *Entity) *string { return &e.BankName }),
	text("branch_name", "Branch_Name", func(e *Entity) *string { return &e.BranchName }),
	text("upi_id", "UPI_ID", func(e *Entity) *string { return &e.UPIID }),
	flag("aadhaar_linked", "Aadhaar_Linked", func(e *Entity) **bool { return &e.AadhaarLinked }),
	flag("dob_verified", "DOB_Verified", func(e *Entity) **bool { return &e.DOBVerified }),
	meta("verification_status", "Verification_Status", func(e *Entity) *string { return &e.VerificationStatus }),
	meta("last_verification_type", "Last_Verification_Type", func(e *Entity) *string { return &e.LastVerificationType }),
	meta("verification_source", "Verification_Source", func(e *Entity) *string { return &e.VerificationSource }),
	{
		Name: "verification_count", Column: "Verification_Count", Kind: KindCount,
		get: func(e *Entity) string { return strconv.Itoa(e.VerificationCount) },
		set: func(e *Entity, v string) error {
			if v == "" {
				e.VerificationCount = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			e.VerificationCount = n
			return nil
		},
	},
	{
		Name: "confidence_score", Column: "Confidence_Score", Kind: KindNumber, Audited: true,
		get: func(e *Entity) string {
			if e.ConfidenceScore == nil {
				return ""
			}
			return strconv.FormatFloat(*e.ConfidenceScore, 'f', -1, 64)
		},
		set: func(e *Entity, v string) error {
			if v == "" {
				e.ConfidenceScore = nil
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			e.ConfidenceScore = &f
			return nil
		},
	},
	{
		Name: "verification_history", Column: "Verification_History", Kind: KindJSON,
		get: func(e *Entity) string {
			if len(e.History) == 0 {
				return ""
			}
			return encodeJSON(e.History)
		},
		set: func(e *Entity, v string) error {
			e.History = nil
			if v == "" {
				return nil
			}
			return json.Unmarshal([]byte(v), &e.History)
		},
	},
	{
		Name: "raw_responses", Column: "Raw_Responses", Kind: KindJSON,
		get: func(e *Entity) string {
			if len(e.RawResponses) == 0 {
				return ""
			}
			return encodeJSON(e.RawResponses)
		},
		set: func(e *Entity, v string) error {
			e.RawResponses = nil
			if v == "" {
				return nil
			}
			return json.Unmarshal([]byte(v), &e.RawResponses)
		},
	},
	{
		Name: "extra_data", Column: "Extra_Data", Kind: KindJSON,
		get: func(e *Entity) string {
			if len(e.Extensions) == 0 {
				return ""
			}
			return encodeJSON(e.Extensions)
		},
		set: func(e *Entity, v string) error {
			e.Extensions = nil
			if v == "" {
				return nil
			}
			return json.Unmarshal([]byte(v), &e.Extensions)
		},
	},
	timestamp("created_at", "Created_At", func(e *Entity) *time.Time { return &e.CreatedAt }),
	timestamp("updated_at", "Updated_At", func(e *Entity) *time.Time { return &e.UpdatedAt }),
	timestamp("last_verified_at", "Last_Verified_At", func(e *Entity) *time.Time { return &e.LastVerifiedAt }),
}

var (
	fieldsByName   = make(map[string]Field, len(fields))
	fieldsByColumn = make(map[string]Field, len(fields))
)

func init() {
	for _, f := range fields {
		fieldsByName[f.Name] = f
		fieldsByColumn[f.Column] = f
	}
}

// Fields returns the canonical field table in column order.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// CanonicalNames returns the canonical field names in column order.
func CanonicalNames() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

// Columns returns the canonical spreadsheet headers in order.
func Columns() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Column
	}
	return out
}

// FieldByName looks up a canonical field by payload key.
func FieldByName(name string) (Field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

// FieldByColumn looks up a canonical field by spreadsheet header.
func FieldByColumn(column string) (Field, bool) {
	f, ok := fieldsByColumn[column]
	return f, ok
}

// IsCanonical reports whether name is part of the canonical schema.
func IsCanonical(name string) bool {
	_, ok := fieldsByName[name]
	return ok
}

// Snapshot returns the text value of every audited field and extension,
// omitting empty values. Mutation diffs compare two snapshots.
func Snapshot(e *Entity) map[string]string {
	out := make(map[string]string)
	if e == nil {
		return out
	}
	for _, f := range fields {
		if !f.Audited {
			continue
		}
		if v := f.Get(e); v != "" {
			out[f.Name] = v
		}
	}
	for k, v := range e.Extensions {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func text(name, column string, p func(*Entity) *string) Field {
	return Field{
		Name: name, Column: column, Kind: KindText, Audited: true,
		get: func(e *Entity) string { return *p(e) },
		set: func(e *Entity, v string) error { *p(e) = v; return nil },
	}
}

func meta(name, column string, p func(*Entity) *string) Field {
	f := text(name, column, p)
	f.Audited = false
	return f
}

func document(d DocumentField, column string) Field {
	return Field{
		Name: string(d), Column: column, Kind: KindDocument, Audited: true,
		get: func(e *Entity) string { return e.Document(d) },
		set: func(e *Entity, v string) error { e.SetDocument(d, v); return nil },
	}
}

func flag(name, column string, p func(*Entity) **bool) Field {
	return Field{
		Name: name, Column: column, Kind: KindBool, Audited: true,
		get: func(e *Entity) string {
			if b := *p(e); b != nil {
				return strconv.FormatBool(*b)
			}
			return ""
		},
		set: func(e *Entity, v string) error {
			if v == "" {
				*p(e) = nil
				return nil
			}
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*p(e) = &b
			return nil
		},
	}
}

func timestamp(name, column string, p func(*Entity) *time.Time) Field {
	return Field{
		Name: name, Column: column, Kind: KindTime,
		get: func(e *Entity) string {
			if t := *p(e); !t.IsZero() {
				return t.UTC().Format(TimeLayout)
			}
			return ""
		},
		set: func(e *Entity, v string) error {
			if v == "" {
				*p(e) = time.Time{}
				return nil
			}
			t, err := ParseTime(v)
			if err != nil {
				return err
			}
			*p(e) = t
			return nil
		},
	}
}

// ParseTime accepts RFC 3339 and the zone-less ISO form older rows carry.
func ParseTime(v string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", v, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
