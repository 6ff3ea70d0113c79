package models

import "time"

type TermsType string

const (
	TermsService         TermsType = "SERVICE"
	TermsPrivacy         TermsType = "PRIVACY"
	TermsLocation        TermsType = "LOCATION"
	TermsPayment         TermsType = "PAYMENT"
	TermsMarketing       TermsType = "MARKETING"
	TermsPersonalization TermsType = "PERSONALIZATION"
)

// AllTermsTypes lists every terms type a signup has to resolve a version for.
var AllTermsTypes = []TermsType{
	TermsService,
	TermsPrivacy,
	TermsLocation,
	TermsPayment,
	TermsMarketing,
	TermsPersonalization,
}

// Terms is one published version of a terms document.
type Terms struct {
	ID        int64
	Type      TermsType
	Version   int
	Required  bool
	CreatedAt time.Time
}

// Required reports whether a member has to agree to t to sign up.
func (t TermsType) Required() bool {
	switch t {
	case TermsService, TermsPrivacy, TermsLocation, TermsPayment:
		return true
	}
	return false
}

// TermsAgreement is a member's answer to one terms version at signup.
type TermsAgreement struct {
	TermsID int64
	Agreed  bool
}
