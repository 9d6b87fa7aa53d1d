package models

import (
	"strings"

	dErrors "kyc-intake/pkg/domain-errors"
)

// Field names a free-text input on the company KYC form. Wire names match the
// form's JSON keys.
type Field string

const (
	FieldLegalName            Field = "legal_name"
	FieldBusinessPAN          Field = "business_pan"
	FieldEmail                Field = "email"
	FieldMobile               Field = "mobile"
	FieldSignatoryName        Field = "signatory_name"
	FieldSignatoryDesignation Field = "signatory_designation"
	FieldGSTNumber            Field = "gst_number"
	FieldDate                 Field = "date"
)

var textFields = map[Field]struct{}{
	FieldLegalName:            {},
	FieldBusinessPAN:          {},
	FieldEmail:                {},
	FieldMobile:               {},
	FieldSignatoryName:        {},
	FieldSignatoryDesignation: {},
	FieldGSTNumber:            {},
	FieldDate:                 {},
}

// ParseField accepts only the text inputs of the form. businessType and
// declaration have their own operations.
func ParseField(name string) (Field, error) {
	f := Field(strings.TrimSpace(name))
	if _, ok := textFields[f]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, "unknown field: "+name)
	}
	return f, nil
}

// BusinessType is the closed set offered by the business type select.
type BusinessType string

const (
	BusinessTypeUnset          BusinessType = ""
	BusinessTypePrivateLimited BusinessType = "private_ltd"
	BusinessTypeLLP            BusinessType = "llp"
	BusinessTypeProprietorship BusinessType = "proprietorship"
	BusinessTypeOther          BusinessType = "other"
)

// Label is the human readable option text.
func (b BusinessType) Label() string {
	switch b {
	case BusinessTypePrivateLimited:
		return "Private Limited"
	case BusinessTypeLLP:
		return "LLP"
	case BusinessTypeProprietorship:
		return "Proprietorship"
	case BusinessTypeOther:
		return "Other"
	default:
		return ""
	}
}

func ParseBusinessType(v string) (BusinessType, error) {
	switch b := BusinessType(strings.TrimSpace(v)); b {
	case BusinessTypePrivateLimited, BusinessTypeLLP, BusinessTypeProprietorship, BusinessTypeOther:
		return b, nil
	default:
		return BusinessTypeUnset, dErrors.New(dErrors.CodeValidation, "invalid business type: "+v)
	}
}

// KYCForm is the company KYC form state. Values are stored exactly as typed;
// only the GST number gets a format check, and only on request.
type KYCForm struct {
	LegalName            string       `json:"legal_name"`
	BusinessPAN          string       `json:"business_pan"`
	BusinessType         BusinessType `json:"business_type"`
	Email                string       `json:"email"`
	Mobile               string       `json:"mobile"`
	SignatoryName        string       `json:"signatory_name"`
	SignatoryDesignation string       `json:"signatory_designation"`
	GSTNumber            string       `json:"gst_number"`
	Declaration          bool         `json:"declaration"`
	Date                 string       `json:"date"`
}

// Get returns the current value of a text field.
func (f *KYCForm) Get(field Field) string {
	switch field {
	case FieldLegalName:
		return f.LegalName
	case FieldBusinessPAN:
		return f.BusinessPAN
	case FieldEmail:
		return f.Email
	case FieldMobile:
		return f.Mobile
	case FieldSignatoryName:
		return f.SignatoryName
	case FieldSignatoryDesignation:
		return f.SignatoryDesignation
	case FieldGSTNumber:
		return f.GSTNumber
	case FieldDate:
		return f.Date
	}
	return ""
}

func (f *KYCForm) set(field Field, value string) {
	switch field {
	case FieldLegalName:
		f.LegalName = value
	case FieldBusinessPAN:
		f.BusinessPAN = value
	case FieldEmail:
		f.Email = value
	case FieldMobile:
		f.Mobile = value
	case FieldSignatoryName:
		f.SignatoryName = value
	case FieldSignatoryDesignation:
		f.SignatoryDesignation = value
	case FieldGSTNumber:
		f.GSTNumber = value
	case FieldDate:
		f.Date = value
	}
}
