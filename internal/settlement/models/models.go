package models

import (
	"github.com/shopspring/decimal"

	claims "escrow/internal/claims/models"
	collectible "escrow/internal/collectible/models"
	id "escrow/pkg/domain"
	"escrow/pkg/funds"
)

// ItemHandle is the caller's reference to a unique item. It cannot be split
// or merged; it only names the item.
type ItemHandle struct {
	ID id.ItemID `json:"item_id"`
}

// CertificateHandle is the bearer reference to a claim certificate.
type CertificateHandle struct {
	ID id.CertificateID `json:"certificate_id"`
}

type MintRequest struct {
	Name        string
	Description string
	ImageRef    string
	Price       decimal.Decimal
}

type MintResult struct {
	Item        ItemHandle
	Certificate CertificateHandle
}

type PurchaseResult struct {
	Item   ItemHandle
	Change funds.Bucket
	Split  FeeSplit
}

// RedeemResult holds exactly one of Funds (item sold, certificate destroyed)
// or Certificate (item still available, certificate handed back).
type RedeemResult struct {
	Funds       *funds.Bucket
	Certificate *CertificateHandle
}

func (r RedeemResult) Redeemed() bool {
	return r.Funds != nil
}

// ItemView is the public read model of an item with its outstanding
// certificate, if one has not been redeemed yet.
type ItemView struct {
	Item          *collectible.Item
	CertificateID *id.CertificateID
}

// FeeSplit divides a sale price between the platform and the certificate.
type FeeSplit struct {
	Price    decimal.Decimal
	Fee      decimal.Decimal
	Proceeds decimal.Decimal
}

// SplitPrice computes fee = round18(price * rate) and proceeds = price - fee,
// so Fee + Proceeds always equals Price exactly.
func SplitPrice(price, rate decimal.Decimal) FeeSplit {
	price = funds.Round(price)
	fee := funds.Round(price.Mul(rate))
	return FeeSplit{Price: price, Fee: fee, Proceeds: price.Sub(fee)}
}

// NewCertificateView returns the id pointer for an ItemView.
func NewCertificateView(cert *claims.Certificate) *id.CertificateID {
	if cert == nil {
		return nil
	}
	certID := cert.ID
	return &certID
}
