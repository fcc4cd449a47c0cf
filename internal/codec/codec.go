// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package codec decodes UBL-subset invoice documents downloaded from the
// e-invoicing authority into a canonical parsed form. Decoding is a pure
// transform: no I/O, no persistence, a fresh ParsedInvoice on every call.
//
// Providers are inconsistent about namespace prefixing, so all tag lookups
// go by local name. Monetary fields appear either as bare text or as a
// text-plus-currency-attribute node; both are normalized to a decimal at the
// parse boundary so no ambiguous shape reaches business logic.
package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSeries is used when the invoice identifier has no leading
// alphabetic run to split off.
const DefaultSeries = "F"

const defaultProductName = "Produs nedefinit"

// ErrMissingRoot is returned when the document contains no invoice root
// element at all.
var ErrMissingRoot = errors.New("codec: no Invoice root element found")

// UnknownUnitError is returned when a line's unit code is absent from the
// lookup table. One bad line invalidates the whole document — a line without
// a reliable unit cannot be safely priced downstream, and the codec never
// guesses a default.
type UnknownUnitError struct {
	Code    string
	Product string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("codec: unknown unit code %q on line %q", e.Code, e.Product)
}

// Line is one decoded invoice line, in document order.
type Line struct {
	Product   string
	Quantity  decimal.Decimal
	UnitCode  string
	Unit      string
	UnitPrice decimal.Decimal
	LineValue decimal.Decimal
}

// ParsedInvoice is the canonical decoded document. It is transient and never
// persisted; retries re-decode rather than reuse a cached instance.
type ParsedInvoice struct {
	SupplierTaxID   string
	SupplierName    string
	SupplierAddress string
	BuyerTaxID      string
	BuyerName       string
	Series          string
	Number          string
	IssueDate       time.Time
	DueDate         time.Time
	Currency        string
	Total           decimal.Decimal
	Lines           []Line
}

// Decoder decodes UBL-subset XML. The zero value is the permissive decoder
// matching observed provider behaviour: malformed numeric text is coerced to
// zero. Strict turns malformed numbers into decode errors instead.
type Decoder struct {
	Strict bool
}

// amountNode accepts both shapes of a monetary field: bare text, or text
// with a currencyID attribute.
type amountNode struct {
	Value      string `xml:",chardata"`
	CurrencyID string `xml:"currencyID,attr"`
}

// quantityNode carries the invoiced quantity and its provider unit code.
type quantityNode struct {
	Value    string `xml:",chardata"`
	UnitCode string `xml:"unitCode,attr"`
}

type ublAddress struct {
	StreetName       string `xml:"StreetName"`
	CityName         string `xml:"CityName"`
	CountrySubentity string `xml:"CountrySubentity"`
}

type ublParty struct {
	PartyName struct {
		Name string `xml:"Name"`
	} `xml:"PartyName"`
	PostalAddress  ublAddress `xml:"PostalAddress"`
	PartyTaxScheme struct {
		CompanyID string `xml:"CompanyID"`
	} `xml:"PartyTaxScheme"`
	PartyLegalEntity struct {
		RegistrationName string `xml:"RegistrationName"`
		CompanyID        string `xml:"CompanyID"`
	} `xml:"PartyLegalEntity"`
}

type ublLine struct {
	InvoicedQuantity    quantityNode `xml:"InvoicedQuantity"`
	LineExtensionAmount amountNode   `xml:"LineExtensionAmount"`
	Item                struct {
		Name string `xml:"Name"`
	} `xml:"Item"`
	Price struct {
		PriceAmount amountNode `xml:"PriceAmount"`
	} `xml:"Price"`
}

// ublInvoice mirrors the subset of the UBL invoice schema the authority
// accepts. Tags carry no namespace so lookups match by local name whatever
// prefix the provider used.
type ublInvoice struct {
	ID                   string `xml:"ID"`
	IssueDate            string `xml:"IssueDate"`
	DueDate              string `xml:"DueDate"`
	DocumentCurrencyCode string `xml:"DocumentCurrencyCode"`
	SupplierParty        struct {
		Party ublParty `xml:"Party"`
	} `xml:"AccountingSupplierParty"`
	CustomerParty struct {
		Party ublParty `xml:"Party"`
	} `xml:"AccountingCustomerParty"`
	LegalMonetaryTotal struct {
		TaxInclusiveAmount amountNode `xml:"TaxInclusiveAmount"`
	} `xml:"LegalMonetaryTotal"`
	Lines []ublLine `xml:"InvoiceLine"`
}

var seriesRe = regexp.MustCompile(`^([A-Za-z]+)(.*)$`)

// Decode parses one invoice document.
func (d *Decoder) Decode(data []byte) (*ParsedInvoice, error) {
	doc, err := unmarshalInvoice(data)
	if err != nil {
		return nil, err
	}

	series, number := SplitIdentifier(doc.ID)

	supplier := doc.SupplierParty.Party
	buyer := doc.CustomerParty.Party

	total, err := d.amount(doc.LegalMonetaryTotal.TaxInclusiveAmount.Value, "TaxInclusiveAmount")
	if err != nil {
		return nil, err
	}

	inv := &ParsedInvoice{
		SupplierTaxID:   partyTaxID(supplier),
		SupplierName:    partyName(supplier),
		SupplierAddress: joinAddress(supplier.PostalAddress),
		BuyerTaxID:      partyTaxID(buyer),
		BuyerName:       partyName(buyer),
		Series:          series,
		Number:          number,
		IssueDate:       parseDate(doc.IssueDate),
		DueDate:         parseDate(doc.DueDate),
		Currency:        strings.TrimSpace(doc.DocumentCurrencyCode),
		Total:           total,
	}

	for _, l := range doc.Lines {
		line, err := d.decodeLine(l)
		if err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, line)
	}

	return inv, nil
}

func (d *Decoder) decodeLine(l ublLine) (Line, error) {
	product := strings.TrimSpace(l.Item.Name)
	if product == "" {
		product = defaultProductName
	}

	code := strings.TrimSpace(l.InvoicedQuantity.UnitCode)
	unit, ok := UnitForCode(code)
	if !ok {
		return Line{}, &UnknownUnitError{Code: code, Product: product}
	}

	qty, err := d.amount(l.InvoicedQuantity.Value, "InvoicedQuantity")
	if err != nil {
		return Line{}, err
	}
	price, err := d.amount(l.Price.PriceAmount.Value, "PriceAmount")
	if err != nil {
		return Line{}, err
	}
	value, err := d.amount(l.LineExtensionAmount.Value, "LineExtensionAmount")
	if err != nil {
		return Line{}, err
	}

	return Line{
		Product:   product,
		Quantity:  qty,
		UnitCode:  code,
		Unit:      unit,
		UnitPrice: price,
		LineValue: value,
	}, nil
}

// amount normalizes numeric text to a decimal. Malformed text is coerced to
// zero unless Strict is set — silent tolerance matching the behaviour of the
// providers' own portals.
func (d *Decoder) amount(raw, field string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		if d.Strict {
			return decimal.Zero, fmt.Errorf("codec: empty numeric value in %s", field)
		}
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		if d.Strict {
			return decimal.Zero, fmt.Errorf("codec: malformed numeric value %q in %s", s, field)
		}
		return decimal.Zero, nil
	}
	return v, nil
}

// SplitIdentifier splits an invoice identifier into series and number by the
// leading alphabetic run. Without one, the whole identifier is the number
// under DefaultSeries.
func SplitIdentifier(id string) (series, number string) {
	id = strings.TrimSpace(id)
	m := seriesRe.FindStringSubmatch(id)
	if m == nil || m[1] == "" {
		return DefaultSeries, id
	}
	return m[1], m[2]
}

// unmarshalInvoice locates the invoice root element and decodes it.
// Any root whose local name is not Invoice is a fatal decode failure.
func unmarshalInvoice(data []byte) (*ublInvoice, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, ErrMissingRoot
		}
		if err != nil {
			return nil, fmt.Errorf("codec: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "Invoice" {
			return nil, ErrMissingRoot
		}
		var doc ublInvoice
		if err := dec.DecodeElement(&doc, &start); err != nil {
			return nil, fmt.Errorf("codec: decode invoice: %w", err)
		}
		return &doc, nil
	}
}

func partyName(p ublParty) string {
	if n := strings.TrimSpace(p.PartyName.Name); n != "" {
		return n
	}
	return strings.TrimSpace(p.PartyLegalEntity.RegistrationName)
}

func partyTaxID(p ublParty) string {
	if id := strings.TrimSpace(p.PartyTaxScheme.CompanyID); id != "" {
		return id
	}
	return strings.TrimSpace(p.PartyLegalEntity.CompanyID)
}

// joinAddress comma-joins street, city, region, dropping blank segments.
func joinAddress(a ublAddress) string {
	var parts []string
	for _, s := range []string{a.StreetName, a.CityName, a.CountrySubentity} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}
