package models

import (
	"time"

	"github.com/google/uuid"
)

// Facility types used by the default catalog's applicability predicates.
const (
	FacilityTypeProcessor  = "processor"
	FacilityTypeCollector  = "collector"
	FacilityTypeRefurbish  = "refurbisher"
	FacilityTypeBroker     = "broker"
	FacilityTypeDataCenter = "data_center"
)

// Operating status values.
const (
	OperatingStatusActive    = "active"
	OperatingStatusStartup   = "startup"
	OperatingStatusSuspended = "suspended"
)

// Built-in predicate attribute names. Any other attribute name is looked up
// in FacilityProfile.Attributes.
const (
	AttrFacilityType    = "facility_type"
	AttrOperatingStatus = "operating_status"
)

// FacilityProfile describes a site seeking certification. Facilities are
// archived, never deleted.
type FacilityProfile struct {
	ID              uuid.UUID         `json:"id"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	Name            string            `json:"name"`
	FacilityType    string            `json:"facility_type"`
	OperatingStatus string            `json:"operating_status"`
	RecScope        []string          `json:"rec_scope"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ArchivedAt      *time.Time        `json:"archived_at,omitempty"`
}

// IsArchived reports whether the facility has been soft-archived.
func (f *FacilityProfile) IsArchived() bool {
	return f.ArchivedAt != nil
}

// Attribute resolves a predicate attribute against the profile.
func (f *FacilityProfile) Attribute(name string) (string, bool) {
	switch name {
	case AttrFacilityType:
		return f.FacilityType, f.FacilityType != ""
	case AttrOperatingStatus:
		return f.OperatingStatus, f.OperatingStatus != ""
	}
	v, ok := f.Attributes[name]
	return v, ok
}
