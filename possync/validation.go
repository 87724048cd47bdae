// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Explicit per-document-type payload schemas. Unknown fields are rejected at
// decode time rather than silently applied; every accepted field is listed
// here and nowhere else.

// SalesInvoicePayload is the offline sales document body.
type SalesInvoicePayload struct {
	Customer      string  `json:"customer,omitempty"`
	Company       string  `json:"company,omitempty"`
	Profile       string  `json:"pos_profile" validate:"required"`
	Warehouse     string  `json:"warehouse,omitempty"`
	IncomeAccount string  `json:"income_account,omitempty"`
	PostingDate   string  `json:"posting_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	IsReturn      bool    `json:"is_return,omitempty"`
	Discount      float64 `json:"discount_amount,omitempty" validate:"gte=0"`

	Items    []InvoiceLinePayload `json:"items" validate:"required,min=1,dive"`
	Payments []PaymentLinePayload `json:"payments" validate:"required,min=1,dive"`
	Taxes    []TaxLinePayload     `json:"taxes,omitempty" validate:"omitempty,dive"`

	// Submit defaults to true: documents finalize unless explicitly suppressed.
	Submit *bool `json:"submit,omitempty"`
}

// InvoiceLinePayload is one sale line; qty may be negative on returns.
type InvoiceLinePayload struct {
	ItemCode  string  `json:"item_code" validate:"required"`
	ItemName  string  `json:"item_name,omitempty"`
	Qty       float64 `json:"qty" validate:"required"`
	Rate      float64 `json:"rate" validate:"gte=0"`
	Amount    float64 `json:"amount,omitempty"`
	UOM       string  `json:"uom,omitempty"`
	Warehouse string  `json:"warehouse,omitempty"`
}

type PaymentLinePayload struct {
	Method  string  `json:"mode_of_payment" validate:"required"`
	Amount  float64 `json:"amount" validate:"required"`
	Account string  `json:"account,omitempty"`
}

type TaxLinePayload struct {
	ChargeType  string  `json:"charge_type,omitempty"`
	AccountHead string  `json:"account_head" validate:"required"`
	Rate        float64 `json:"rate" validate:"gte=0"`
	TaxAmount   float64 `json:"tax_amount,omitempty"`
	Description string  `json:"description,omitempty"`
}

// CustomerPayload is the offline customer body.
type CustomerPayload struct {
	Name          string `json:"customer_name" validate:"required"`
	CustomerType  string `json:"customer_type,omitempty"`
	CustomerGroup string `json:"customer_group,omitempty"`
	Phone         string `json:"mobile_no,omitempty"`
	Email         string `json:"email_id,omitempty" validate:"omitempty,email"`
}

// newPayloadValidator builds the validator with struct-level rules registered.
func newPayloadValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(invoiceLineConsistency, SalesInvoicePayload{})
	return v
}

// invoiceLineConsistency verifies that any client-supplied line amount agrees
// with qty*rate to the cent. Lines without an amount are computed server-side.
func invoiceLineConsistency(sl validatorv10.StructLevel) {
	p := sl.Current().Interface().(SalesInvoicePayload)
	for i, line := range p.Items {
		if line.Amount == 0 {
			continue
		}
		want := int(math.Round(line.Qty * line.Rate * 100))
		got := int(math.Round(line.Amount * 100))
		if want != got {
			sl.ReportError(line.Amount, fmt.Sprintf("items[%d].amount", i), "Amount",
				"amount_match_line", fmt.Sprintf("qty*rate %.2f != amount %.2f", line.Qty*line.Rate, line.Amount))
		}
	}
}

// decodeStrict unmarshals raw JSON into out, rejecting unknown fields.
func decodeStrict(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// decodeInvoicePayload decodes and validates an offline sales invoice payload.
func (s *SyncService) decodeInvoicePayload(raw json.RawMessage) (*SalesInvoicePayload, error) {
	var p SalesInvoicePayload
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPayload, validationSummary(err))
	}
	return &p, nil
}

// decodeCustomerPayload decodes and validates an offline customer payload.
func (s *SyncService) decodeCustomerPayload(raw json.RawMessage) (*CustomerPayload, error) {
	var p CustomerPayload
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPayload, validationSummary(err))
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: customer_name is blank", ErrBadPayload)
	}
	if p.CustomerType == "" {
		p.CustomerType = "Individual"
	}
	return &p, nil
}

// validateDocument checks the batch envelope before a sync record is created.
func (s *SyncService) validateDocument(doc *OfflineDocument) error {
	if strings.TrimSpace(doc.OfflineID) == "" {
		return fmt.Errorf("%w: offline_id is required", ErrBadPayload)
	}
	if len(doc.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrBadPayload)
	}
	if s.config.MaxPayloadBytes > 0 && len(doc.Payload) > s.config.MaxPayloadBytes {
		return fmt.Errorf("%w: payload too large: %d > %d", ErrBadPayload, len(doc.Payload), s.config.MaxPayloadBytes)
	}
	var obj map[string]any
	if err := json.Unmarshal(doc.Payload, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: payload must be a JSON object", ErrBadPayload)
	}
	return nil
}

// validationSummary flattens validator errors into one readable line.
func validationSummary(err error) string {
	var ve validatorv10.ValidationErrors
	if !errorsAsValidation(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.StructNamespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func errorsAsValidation(err error, target *validatorv10.ValidationErrors) bool {
	ve, ok := err.(validatorv10.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}
