package handler

import (
	"kyc-intake/internal/kyc/models"
	dErrors "kyc-intake/pkg/domain-errors"
)

type UpdateFieldRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`

	field models.Field
}

func (r *UpdateFieldRequest) Validate() error {
	field, err := models.ParseField(r.Name)
	if err != nil {
		return err
	}
	r.field = field
	return nil
}

type BusinessTypeRequest struct {
	BusinessType string `json:"business_type"`

	businessType models.BusinessType
}

func (r *BusinessTypeRequest) Validate() error {
	bt, err := models.ParseBusinessType(r.BusinessType)
	if err != nil {
		return err
	}
	r.businessType = bt
	return nil
}

type DeclarationRequest struct {
	Checked *bool `json:"checked"`
}

func (r *DeclarationRequest) Validate() error {
	if r.Checked == nil {
		return dErrors.New(dErrors.CodeValidation, "checked is required")
	}
	return nil
}

// VerifyGSTRequest carries the number exactly as typed. It is not trimmed
// or upper-cased; an empty number is a verification outcome, not a bad
// request.
type VerifyGSTRequest struct {
	GSTNumber string `json:"gst_number"`
}

func (r *VerifyGSTRequest) Validate() error {
	return nil
}
