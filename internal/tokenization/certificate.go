package tokenization

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/pkg/pdf"
)

// Certificate renders the PDF certificate of a validated receipt
func (s *Service) Certificate(ctx context.Context, receiptID uuid.UUID) (io.ReadSeeker, *WarehouseReceipt, error) {
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, nil, err
	}
	if !receipt.Validated {
		return nil, nil, apperrors.Wrap(ErrNotValidated, "receipt %s", receiptID)
	}
	product, err := s.products.GetProduct(ctx, receipt.ProductID)
	if err != nil {
		return nil, nil, err
	}

	signature := "invalid"
	if info, err := s.signer.Verify(receipt.AuditorSignature, receipt.ContentHash); err == nil && info.IsValid {
		signature = "verified"
	}

	fields := []pdf.Field{
		{Label: "Batch number", Value: receipt.BatchNumber},
		{Label: "Product", Value: product.Name},
		{Label: "Producer", Value: receipt.ProducerID.String()},
		{Label: "Gross weight", Value: fmt.Sprintf("%s %s", receipt.GrossWeight.StringFixed(3), receipt.WeightUnit)},
		{Label: "Net weight", Value: fmt.Sprintf("%s %s", receipt.NetWeight.StringFixed(3), receipt.WeightUnit)},
		{Label: "Quality grade", Value: receipt.QualityGrade},
		{Label: "Storage location", Value: receipt.StorageLocation},
		{Label: "Delivered", Value: receipt.DeliveredAt.Format("2006-01-02 15:04 MST")},
		{Label: "Validated", Value: receipt.ValidatedAt.UTC().Format("2006-01-02 15:04 MST")},
		{Label: "Auditor signature", Value: signature},
	}

	token, err := s.repo.TokenByReceipt(ctx, receiptID)
	switch {
	case err == nil:
		fields = append(fields, pdf.Field{Label: "Token", Value: token.Symbol})
		if token.Issued() {
			fields = append(fields, pdf.Field{Label: "Ledger token id", Value: *token.LedgerTokenID})
		}
		fields = append(fields, pdf.Field{Label: "Minted units", Value: fmt.Sprintf("%d / %d", token.MintedAmount, token.MaxSupply)})
	case !errors.Is(err, ErrTokenNotFound):
		return nil, nil, err
	}
	if receipt.MintTransactionID != nil {
		fields = append(fields, pdf.Field{Label: "Mint transaction", Value: *receipt.MintTransactionID})
	}

	doc, err := s.certificates.Generate(pdf.Certificate{
		Title:     "Warehouse Receipt Certificate",
		Subtitle:  fmt.Sprintf("%s, batch %s", product.Name, receipt.BatchNumber),
		Reference: receipt.ID.String(),
		Fields:    fields,
		Footer:    "Content hash: " + receipt.ContentHash,
		IssuedAt:  s.now(),
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, receipt, nil
}
