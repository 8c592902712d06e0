package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// NORMALIZER - Policy numbers and statuses
// =============================================================================

var (
	leadingZerosRe  = regexp.MustCompile(`^0+(\d)`)
	reexpeditionRe  = regexp.MustCompile(`(\d+[A-Z]*)(\d{2})$`)
	versionSuffixRe = regexp.MustCompile(`^(.+?)(\d{2})$`)
)

// NormalizePolicyID strips the leading zero run of a policy number while a
// digit follows it, so at least one digit always survives.
//
//	"0076384A" -> "76384A"
//	"10007U00" -> "10007U00"
//	"000"      -> "0"
func NormalizePolicyID(id string) string {
	return leadingZerosRe.ReplaceAllString(id, "$1")
}

// DetectReexpedition reports whether a policy number carries a non-zero
// two-digit version suffix ("0076384A01"). Informational only.
func DetectReexpedition(id string) bool {
	m := reexpeditionRe.FindStringSubmatch(id)
	if m == nil {
		return false
	}
	n, err := strconv.Atoi(m[2])
	return err == nil && n > 0
}

// PolicyRoot returns the policy number without its two-digit version suffix.
// Numbers without a suffix are returned unchanged.
func PolicyRoot(id string) string {
	m := versionSuffixRe.FindStringSubmatch(id)
	if m == nil {
		return id
	}
	return m[1]
}

var statusMap = map[string]MyStatus{
	ReceiptCancFaltaPago:   MyStatusCanceladaCaducada,
	ReceiptCancSustitucion: MyStatusCanceladaNoTomada,
	ReceiptPagada:          MyStatusPagadaTotal,
}

// NormalizeStatus maps a billing receipt status to MYSTATUS. The lookup is
// closed: anything unmapped, including an empty status, yields MyStatusNone.
func NormalizeStatus(receiptStatus string) MyStatus {
	return statusMap[receiptStatus]
}

// =============================================================================
// SUPPORTING RULES
// =============================================================================

var segmentGroups = map[string]string{
	"ALFA TOP INTEGRAL":  "ALFA",
	"ALFA TOP COMBINADO": "ALFA",
	"ALFA TOP":           "ALFA",
	"ALFA INTEGRAL":      "ALFA",
	"ALFA/BETA":          "ALFA",
	"BETA1":              "BETA",
	"BETA2":              "BETA",
	"OMEGA":              "OMEGA",
}

// SegmentGroup returns the commercial group (ALFA, BETA, OMEGA) of an agent
// segment. Unknown or empty segments group as OMEGA.
func SegmentGroup(segment string) string {
	if g, ok := segmentGroups[strings.ToUpper(strings.TrimSpace(segment))]; ok {
		return g
	}
	return "OMEGA"
}

// YearBoundaryAlert flags payments made January 2-5, which may belong to
// the previous production year.
func YearBoundaryAlert(paymentDate *Date) bool {
	if paymentDate == nil {
		return false
	}
	return paymentDate.Month() == time.January && paymentDate.Day() >= 2 && paymentDate.Day() <= 5
}

// IsNewInsuredGMM decides whether a Major-Medical insured person counts as
// new: paid in the period, no recognized seniority from another AXA
// individual policy, and seniority date equal to the policy start date.
func IsNewInsuredGMM(paidInPeriod, seniorityRecognized bool, seniority, start *Date) bool {
	if !paidInPeriod || seniorityRecognized {
		return false
	}
	if seniority == nil || start == nil {
		return false
	}
	return seniority.Equal(*start)
}
