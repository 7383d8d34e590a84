package models

// ConsentLevel is the coarse location permission granted by the end user.
type ConsentLevel string

const (
	ConsentNone    ConsentLevel = "NONE"
	ConsentGeneral ConsentLevel = "GENERAL"
	ConsentPrecise ConsentLevel = "PRECISE"
)

// LocationSnapshot carries the consent level and the coarse region fields
// derived from the last successful geocode. When Consent is ConsentNone every
// granular field must be empty.
type LocationSnapshot struct {
	Consent      ConsentLevel `json:"consent"`
	AdminArea    string       `json:"admin_area,omitempty"`
	Postcode     string       `json:"postcode,omitempty"`
	CountryCode  string       `json:"country_code,omitempty"`
	SubAdminArea string       `json:"sub_admin_area,omitempty"`
	Locality     string       `json:"locality,omitempty"`
	SubLocality  string       `json:"sub_locality,omitempty"`
}

// EmptySnapshot returns the snapshot used when nothing is cached.
func EmptySnapshot() LocationSnapshot {
	return LocationSnapshot{Consent: ConsentNone}
}

// Redacted returns a copy of s with the granular fields cleared when consent
// is none. Snapshots with an empty consent value are treated as none.
func (s LocationSnapshot) Redacted() LocationSnapshot {
	if s.Consent == ConsentGeneral || s.Consent == ConsentPrecise {
		return s
	}
	return EmptySnapshot()
}

// HasGranularFields reports whether any region field is populated.
func (s LocationSnapshot) HasGranularFields() bool {
	return s.AdminArea != "" || s.Postcode != "" || s.CountryCode != "" ||
		s.SubAdminArea != "" || s.Locality != "" || s.SubLocality != ""
}

// Placemark is the result of reverse geocoding a coordinate fix.
type Placemark struct {
	AdminArea    string
	Postcode     string
	CountryCode  string
	SubAdminArea string
	Locality     string
	SubLocality  string
}

// WithPlacemark returns a copy of s whose region fields are taken from p.
// The fields are only applied when consent is general or precise.
func (s LocationSnapshot) WithPlacemark(p Placemark) LocationSnapshot {
	if s.Consent != ConsentGeneral && s.Consent != ConsentPrecise {
		return EmptySnapshot()
	}
	s.AdminArea = p.AdminArea
	s.Postcode = p.Postcode
	s.CountryCode = p.CountryCode
	s.SubAdminArea = p.SubAdminArea
	s.Locality = p.Locality
	s.SubLocality = p.SubLocality
	return s
}
