package models

import (
	"strings"
)

// DocumentField names a document-number attribute. Document numbers are the
// only attributes used for write-side identity resolution.
type DocumentField string

const (
	DocPAN            DocumentField = "pan_number"
	DocAadhaar        DocumentField = "aadhaar_number"
	DocVoterID        DocumentField = "voter_id"
	DocDrivingLicense DocumentField = "driving_license"
	DocPassport       DocumentField = "passport_number"
	DocGSTIN          DocumentField = "gstin"
	DocTAN            DocumentField = "tan_number"
	DocBankAccount    DocumentField = "bank_account"
)

// DocumentPriority is the order in which document numbers are tried when a
// payload carries more than one.
var DocumentPriority = []DocumentField{
	DocPAN,
	DocAadhaar,
	DocVoterID,
	DocDrivingLicense,
	DocPassport,
	DocGSTIN,
	DocTAN,
	DocBankAccount,
}

// verification type prefix -> document field
var typePrefixes = []struct {
	prefix string
	field  DocumentField
}{
	{"pan", DocPAN},
	{"aadhaar", DocAadhaar},
	{"voter_id", DocVoterID},
	{"driving_license", DocDrivingLicense},
	{"passport", DocPassport},
	{"gstin", DocGSTIN},
	{"tan", DocTAN},
	{"bank_verification", DocBankAccount},
}

// IsValid reports whether f is a known document field.
func (f DocumentField) IsValid() bool {
	for _, d := range DocumentPriority {
		if d == f {
			return true
		}
	}
	return false
}

func (f DocumentField) String() string { return string(f) }

// DocumentKey is a normalized document number together with its field.
type DocumentKey struct {
	Field DocumentField
	Value string
}

// LockKey is the key used to serialize writers on one identity.
func (k DocumentKey) LockKey() string {
	return "kyc:record:" + string(k.Field) + ":" + k.Value
}

// EntityLockKey serializes writers on one stored entity, whichever document
// number they reached it through.
func EntityLockKey(id string) string {
	return "kyc:entity:" + id
}

// NormalizeVerificationType lowercases and converts dashes so endpoint-derived
// and catalog-derived types compare equal.
func NormalizeVerificationType(vt string) string {
	vt = strings.ToLower(strings.TrimSpace(vt))
	return strings.ReplaceAll(vt, "-", "_")
}

// DocumentFieldFor maps a verification type to the document field it
// verifies. Types like ocr or face_match map to nothing.
func DocumentFieldFor(verificationType string) (DocumentField, bool) {
	vt := NormalizeVerificationType(verificationType)
	for _, p := range typePrefixes {
		if strings.HasPrefix(vt, p.prefix) {
			return p.field, true
		}
	}
	return "", false
}

// VerificationTypeFromEndpoint derives a verification type from the last
// non-empty segment of an upstream endpoint path.
//
//	VerificationTypeFromEndpoint("/pan/pan-comprehensive") // "pan_comprehensive"
//	VerificationTypeFromEndpoint("/bank-verification/")    // "bank_verification"
func VerificationTypeFromEndpoint(endpoint string) string {
	segments := strings.Split(strings.Trim(endpoint, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(segments[i]); s != "" {
			return NormalizeVerificationType(s)
		}
	}
	return ""
}

// NormalizeDocument trims and upper-cases a document number. Inner spaces are
// removed so "1234 5678 9012" matches "123456789012".
func NormalizeDocument(v string) string {
	return strings.ToUpper(strings.Join(strings.Fields(v), ""))
}
