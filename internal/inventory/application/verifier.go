package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/retailcore/checkout-core/pkg/metrics"
)

type LineStatus string

const (
	LineOK           LineStatus = "OK"
	LineInsufficient LineStatus = "INSUFFICIENT_STOCK"
	LineOutOfStock   LineStatus = "OUT_OF_STOCK"
	LineError        LineStatus = "ERROR"
)

var ErrEmptyCart = errors.New("cart has no lines")

type CartLine struct {
	VariantID   uuid.UUID `json:"variantId"`
	ColorID     uuid.UUID `json:"colorId"`
	StoreID     uuid.UUID `json:"storeId"`
	Quantity    int       `json:"quantity"`
	Designation string    `json:"designation,omitempty"`
	ColorName   string    `json:"colorName,omitempty"`
	Locality    string    `json:"locality,omitempty"`
}

type LineResult struct {
	CartLine
	Available int        `json:"available"`
	Status    LineStatus `json:"status"`
}

// VerifyResult is the verification response. Success reports that the
// check itself ran to completion; CanProceed reports its verdict.
type VerifyResult struct {
	Success    bool         `json:"success"`
	CanProceed bool         `json:"canProceed"`
	Lines      []LineResult `json:"stockStatus"`
	Warnings   []string     `json:"warnings,omitempty"`
	Summary    string       `json:"summary"`
}

// Verifier answers "can this cart be fulfilled right now?". It is
// read-only and non-transactional, so the answer is only advisory: the
// reservation re-checks atomically before any unit is held.
type Verifier struct {
	log     *slog.Logger
	units   UnitCounter
	catalog Catalog
	tracer  trace.Tracer
}

func NewVerifier(log *slog.Logger, units UnitCounter, catalog Catalog) *Verifier {
	return &Verifier{
		log:     log,
		units:   units,
		catalog: catalog,
		tracer:  otel.Tracer("stock-verifier"),
	}
}

// VerifyCart classifies every line and aggregates CanProceed, which is
// true only when every single line is OK. A failed lookup classifies
// the line ERROR and blocks the cart; it is never silently skipped.
func (v *Verifier) VerifyCart(ctx context.Context, lines []CartLine) (VerifyResult, error) {
	ctx, span := v.tracer.Start(ctx, "VerifyCart")
	defer span.End()

	if len(lines) == 0 {
		return VerifyResult{}, ErrEmptyCart
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return VerifyResult{}, fmt.Errorf("invalid quantity %d for variant %s", l.Quantity, l.VariantID)
		}
	}

	res := VerifyResult{Success: true, CanProceed: true, Lines: make([]LineResult, 0, len(lines))}
	for _, l := range lines {
		lr := LineResult{CartLine: v.withNames(ctx, l)}

		available, err := v.units.CountAvailable(ctx, l.VariantID, l.ColorID, l.StoreID)
		switch {
		case err != nil:
			v.log.Error("stock lookup failed", "variant_id", l.VariantID, "store_id", l.StoreID, "err", err)
			lr.Status = LineError
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: stock lookup failed", lr.label()))
		case available == 0:
			lr.Status = LineOutOfStock
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: out of stock", lr.label()))
		case available < l.Quantity:
			lr.Status = LineInsufficient
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: only %d of %d available", lr.label(), available, l.Quantity))
		default:
			lr.Status = LineOK
		}
		lr.Available = available
		if lr.Status != LineOK {
			res.CanProceed = false
		}
		metrics.StockVerifications.WithLabelValues(string(lr.Status)).Inc()
		res.Lines = append(res.Lines, lr)
	}

	if res.CanProceed {
		res.Summary = fmt.Sprintf("all %d lines in stock", len(lines))
	} else {
		res.Summary = fmt.Sprintf("%d of %d lines cannot be fulfilled", len(res.Warnings), len(lines))
	}
	return res, nil
}

// withNames fills display names the caller omitted. Lookup errors leave
// the line as provided.
func (v *Verifier) withNames(ctx context.Context, l CartLine) CartLine {
	if l.Designation != "" && l.ColorName != "" && l.Locality != "" {
		return l
	}
	info, err := v.catalog.Resolve(ctx, l.VariantID, l.ColorID, l.StoreID)
	if err != nil {
		v.log.Warn("catalog resolve failed", "variant_id", l.VariantID, "err", err)
		return l
	}
	if l.Designation == "" {
		l.Designation = info.Designation
	}
	if l.ColorName == "" {
		l.ColorName = info.ColorName
	}
	if l.Locality == "" {
		l.Locality = info.Locality
	}
	return l
}

func (r LineResult) label() string {
	if r.Designation != "" {
		if r.ColorName != "" {
			return r.Designation + " (" + r.ColorName + ")"
		}
		return r.Designation
	}
	return r.VariantID.String()
}
