package provider

import (
	"maps"
	"slices"

	"kycvault/internal/record/models"
)

// Endpoints maps each verification type to its path under the provider base URL.
var Endpoints = map[string]string{
	// documents
	"tan":                  "/tan/",
	"voter_id":             "/voter-id/voter-id",
	"driving_license":      "/driving-license/driving-license",
	"passport":             "/passport/passport/passport-details",
	"aadhaar_generate_otp": "/aadhaar-v2/generate-otp",
	"aadhaar_validation":   "/aadhaar-validation/aadhaar-validation",
	"pan_comprehensive":    "/pan/pan-comprehensive",
	"pan":                  "/pan/pan",
	"pan_kra":              "/pan/pan-kra",
	"pan_adv":              "/pan/pan-adv",
	"pan_adv_v2":           "/pan/pan-adv-v2",
	"pan_aadhaar_link":     "/pan/pan-aadhaar-link-check",
	"pan_to_uan":           "/pan/pan-to-uan",
	"aadhaar_to_uan":       "/income/epfo/aadhaar-to-uan",
	"aadhaar_pan_link":     "/pan/aadhaar-pan-link-check",
	"pull_kra":             "/pull-kra/pull-kra",
	"e_aadhaar":            "/aadhaar/eaadhaar/generate-otp",
	"aadhaar_qr":           "/aadhaar/upload/qr",

	// bank
	"bank_verification": "/bank-verification/",
	"upi_verification":  "/bank-verification/upi-verification",
	"find_upi_id":       "/bank-verification/find-upi-id",
	"upi_mobile_name":   "/bank-verification/upi-mobile-to-name",
	"mobile_to_bank":    "/mobile-to-bank-details/verification",

	// corporate
	"gstin":           "/corporate/gstin",
	"gstin_advanced":  "/corporate/gstin-advanced",
	"pan_udyam":       "/corporate/pan-udyam-check",
	"gstin_by_pan":    "/corporate/gstin-by-pan",
	"company_details": "/corporate/company-details",
	"name_to_cin":     "/corporate/name-to-cin-list",
	"din":             "/corporate/din",
	"udyog_aadhaar":   "/corporate/udyog-aadhaar",
	"director_phone":  "/corporate/director-phone",

	// ocr, multipart uploads
	"ocr_pan":             "/ocr/pan",
	"ocr_aadhaar":         "/ocr/aadhaar",
	"ocr_passport":        "/ocr/passport",
	"ocr_license":         "/ocr/license",
	"ocr_voter":           "/ocr/voter",
	"ocr_gst":             "/ocr/gst",
	"ocr_itr":             "/ocr/itr-v",
	"ocr_cheque":          "/ocr/cheque",
	"ocr_document_detect": "/ocr/document-detect",

	// utility and financial
	"electricity_bill":         "/utility/electricity/",
	"telecom_generate_otp":     "/telecom/generate-otp",
	"telecom_verification":     "/telecom/telecom-verification",
	"itr_compliance":           "/itr/itr-compliance-check",
	"tds_check":                "/tan/tds-check",
	"credit_report":            "/credit-report-v2/fetch-report",
	"credit_report_pdf":        "/credit-report-v2/fetch-pdf-report",
	"credit_report_commercial": "/credit-report-commercial/fetch-report",
	"esic_details":             "/esic/esic-v2",

	// legal and screening
	"ckyc_search":    "/ckyc/search",
	"ecourts_search": "/ecourts/search",
	"ecourts_cnr":    "/ecourts/ecourt-cnr-search",
	"pep_match":      "/pep/match",

	// face
	"face_match":              "/face/face-match",
	"face_liveness":           "/face/face-liveness",
	"face_extract":            "/face/face-extract",
	"face_background_remover": "/face/face-background-remover",

	// vehicle and misc
	"rc_full":        "/rc/rc-full",
	"rc_to_mobile":   "/rc/rc-to-mobile-number",
	"mobile_to_pan":  "/pan/mobile-to-pan",
	"email_check":    "/employment/email-check",
	"name_matching":  "/utils/name-matching/",
	"prefill_report": "/prefill/prefill-report-v2",
	"lei_validation": "/lei-validation/",
}

// EndpointFor returns the path registered for verificationType.
func EndpointFor(verificationType string) (string, bool) {
	p, ok := Endpoints[models.NormalizeVerificationType(verificationType)]
	return p, ok
}

// Types lists the registered verification types in sorted order.
func Types() []string {
	return slices.Sorted(maps.Keys(Endpoints))
}

// prepareBody expands the request for endpoints that need more than the
// caller sent.
func prepareBody(verificationType string, body map[string]any) map[string]any {
	switch verificationType {
	case "pan_comprehensive":
		return map[string]any{
			"id_number":              body["id_number"],
			"get_father_name":        true,
			"get_address":            true,
			"get_gender":             true,
			"get_minor_flag":         true,
			"consent":                "Y",
			"get_pdf":                true,
			"get_extra_payload_text": true,
		}
	case "pan":
		return map[string]any{"id_number": body["id_number"]}
	}
	return body
}
