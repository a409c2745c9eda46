// Package service is the settlement engine. It resolves callers through the
// identity registry and moves items, certificates and funds together inside
// one StoreTx transaction per operation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	claims "escrow/internal/claims/models"
	collectible "escrow/internal/collectible/models"
	itemstore "escrow/internal/collectible/store"
	"escrow/internal/settlement/metrics"
	"escrow/internal/settlement/models"
	treasury "escrow/internal/treasury/models"
	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/funds"
	"escrow/pkg/platform/audit"
	"escrow/pkg/platform/sentinel"
	"escrow/pkg/requestcontext"
)

const tracerName = "escrow/internal/settlement"

// IdentityResolver turns an identity proof into a registered identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, proof string) (id.IdentityID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	tx             StoreTx
	reads          Stores
	identities     IdentityResolver
	feeRate        decimal.Decimal
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New wires the engine. reads serves lookups that need no lock; every
// mutation goes through tx. feeRate is fixed for the life of the service.
func New(tx StoreTx, reads Stores, identities IdentityResolver, feeRate decimal.Decimal, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("store transaction is required")
	}
	if reads.Items == nil || reads.Claims == nil || reads.Treasury == nil {
		return nil, errors.New("item, claim and treasury stores are required")
	}
	if identities == nil {
		return nil, errors.New("identity resolver is required")
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.New("fee rate must be in [0, 1)")
	}
	s := &Service{
		tx:         tx,
		reads:      reads,
		identities: identities,
		feeRate:    feeRate,
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FeeRate returns the platform share of each sale.
func (s *Service) FeeRate() decimal.Decimal {
	return s.feeRate
}

// Mint creates an item and its claim certificate together. The certificate
// records the full price; the fee is split off when the item sells.
func (s *Service) Mint(ctx context.Context, proof string, req models.MintRequest) (_ *models.MintResult, err error) {
	ctx, span := s.tracer.Start(ctx, "settlement.Mint")
	defer s.finish(span, "mint", time.Now(), &err)

	creatorID, err := s.identities.Resolve(ctx, proof)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	item, err := collectible.NewItem(id.NewItemID(), creatorID, req.Name, req.Description, req.ImageRef, req.Price, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	cert, err := claims.NewCertificate(id.NewCertificateID(), item.ID, item.Price, now)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("item_id", item.ID.String()))

	err = s.tx.RunInTx(WithTxItem(ctx, item.ID), func(ctx context.Context, st Stores) error {
		if err := st.Items.Create(ctx, item); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "item id already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create item")
		}
		if err := st.Claims.Record(ctx, cert); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeDuplicateCertificate, "certificate already recorded")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record certificate")
		}
		return nil
	})
	if err != nil {
		return nil, asDomainError(err, "mint failed")
	}

	s.emit(ctx, audit.EventItemMinted, audit.Event{
		IdentityID: creatorID,
		Subject:    item.ID.String(),
		Amount:     item.Price.String(),
	})
	if s.metrics != nil {
		s.metrics.IncrementMinted()
	}
	return &models.MintResult{
		Item:        models.ItemHandle{ID: item.ID},
		Certificate: models.CertificateHandle{ID: cert.ID},
	}, nil
}

// Purchase sells an available item to the caller. The payment bucket passed
// in is never modified; the unused part comes back as Change. On any error
// nothing moves and the caller keeps its payment.
func (s *Service) Purchase(ctx context.Context, proof string, itemID id.ItemID, payment funds.Bucket) (_ *models.PurchaseResult, err error) {
	ctx, span := s.tracer.Start(ctx, "settlement.Purchase", trace.WithAttributes(
		attribute.String("item_id", itemID.String()),
		attribute.String("payment", payment.Amount().String()),
	))
	defer s.finish(span, "purchase", time.Now(), &err)

	buyerID, err := s.identities.Resolve(ctx, proof)
	if err != nil {
		return nil, err
	}

	var result *models.PurchaseResult
	err = s.tx.RunInTx(WithTxItem(ctx, itemID), func(ctx context.Context, st Stores) error {
		now := requestcontext.Now(ctx)
		sold, err := itemstore.MarkSold(ctx, st.Items, itemID, buyerID, now,
			func(item *collectible.Item) error {
				if payment.Amount().LessThan(item.Price) {
					return dErrors.New(dErrors.CodeInsufficientPayment, "payment of "+payment.Amount().String()+" does not cover price "+item.Price.String())
				}
				return nil
			},
		)
		if err != nil {
			return itemError(err)
		}

		split := models.SplitPrice(sold.Price, s.feeRate)
		change := payment
		paid, err := change.Take(split.Price)
		if err != nil {
			return err
		}
		fee, err := paid.Take(split.Fee)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "fee exceeds price")
		}

		cert, err := st.Claims.FindByItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeInvariantViolation, "available item has no outstanding certificate")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
		}
		if _, err := st.Claims.SetClaimable(ctx, cert.ID, split.Proceeds); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set claimable amount")
		}
		if err := st.Treasury.CreditFees(ctx, fee.Amount()); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit fees")
		}
		if err := st.Treasury.CreditClaimable(ctx, paid.Amount()); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit claimable pool")
		}
		if _, err := itemstore.TakeForDelivery(ctx, st.Items, itemID, now); err != nil {
			return itemError(err)
		}

		result = &models.PurchaseResult{
			Item:   models.ItemHandle{ID: itemID},
			Change: change,
			Split:  split,
		}
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeAlreadySold) && s.metrics != nil {
			s.metrics.IncrementPurchaseConflict()
		}
		return nil, asDomainError(err, "purchase failed")
	}

	s.emit(ctx, audit.EventItemSold, audit.Event{
		IdentityID: buyerID,
		Subject:    itemID.String(),
		Amount:     result.Split.Price.String(),
		Fee:        result.Split.Fee.String(),
	})
	if s.metrics != nil {
		s.metrics.RecordSale(result.Split.Fee)
	}
	return result, nil
}

// Redeem pays out a certificate whose item has sold, destroying it. While
// the item is still available the certificate comes back unchanged and no
// state moves.
func (s *Service) Redeem(ctx context.Context, cert models.CertificateHandle) (_ *models.RedeemResult, err error) {
	ctx, span := s.tracer.Start(ctx, "settlement.Redeem", trace.WithAttributes(
		attribute.String("certificate_id", cert.ID.String()),
	))
	defer s.finish(span, "redeem", time.Now(), &err)

	itemID, err := s.reads.Claims.LookupItem(ctx, cert.ID)
	if err != nil {
		return nil, certificateError(err)
	}
	span.SetAttributes(attribute.String("item_id", itemID.String()))

	var result *models.RedeemResult
	err = s.tx.RunInTx(WithTxItem(ctx, itemID), func(ctx context.Context, st Stores) error {
		status, err := st.Items.GetStatus(ctx, itemID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeInvariantViolation, "certificate references a missing item")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read item status")
		}
		if status == collectible.StatusAvailable {
			handle := cert
			result = &models.RedeemResult{Certificate: &handle}
			return nil
		}

		removed, err := st.Claims.Remove(ctx, cert.ID)
		if err != nil {
			return certificateError(err)
		}
		if err := st.Treasury.DebitClaimable(ctx, removed.ClaimableAmount); err != nil {
			if errors.Is(err, sentinel.ErrInsufficient) {
				return dErrors.New(dErrors.CodeInsufficientPool, "claimable pool cannot cover "+removed.ClaimableAmount.String())
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to debit claimable pool")
		}
		payout, err := funds.NewBucket(removed.ClaimableAmount)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "negative claimable amount")
		}
		result = &models.RedeemResult{Funds: &payout}
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInsufficientPool) {
			s.reportPoolShortfall(ctx, cert, itemID, err)
		}
		return nil, asDomainError(err, "redeem failed")
	}

	if !result.Redeemed() {
		if s.metrics != nil {
			s.metrics.IncrementRedeemPending()
		}
		return result, nil
	}
	s.emit(ctx, audit.EventClaimRedeemed, audit.Event{
		Subject: cert.ID.String(),
		Amount:  result.Funds.Amount().String(),
	})
	if s.metrics != nil {
		s.metrics.IncrementRedeemed()
	}
	return result, nil
}

// GetItem returns an item with its outstanding certificate id.
func (s *Service) GetItem(ctx context.Context, itemID id.ItemID) (*models.ItemView, error) {
	item, err := s.reads.Items.FindByID(ctx, itemID)
	if err != nil {
		return nil, itemError(err)
	}
	cert, err := s.reads.Claims.FindByItem(ctx, itemID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return &models.ItemView{Item: item, CertificateID: models.NewCertificateView(cert)}, nil
}

// MaxBatchItems bounds GetItems.
const MaxBatchItems = 100

// GetItems returns views for several items in request order. Unknown ids are
// skipped. Certificates are loaded in one ledger query.
func (s *Service) GetItems(ctx context.Context, itemIDs []id.ItemID) ([]*models.ItemView, error) {
	if len(itemIDs) > MaxBatchItems {
		return nil, dErrors.New(dErrors.CodeValidation, "too many item ids")
	}
	certs, err := s.reads.Claims.FindByItems(ctx, itemIDs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificates")
	}
	views := make([]*models.ItemView, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		item, err := s.reads.Items.FindByID(ctx, itemID)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, itemError(err)
		}
		views = append(views, &models.ItemView{Item: item, CertificateID: models.NewCertificateView(certs[itemID])})
	}
	return views, nil
}

// Balances returns the treasury totals for auditing.
func (s *Service) Balances(ctx context.Context) (treasury.Balance, error) {
	b, err := s.reads.Treasury.Balances(ctx)
	if err != nil {
		return treasury.Balance{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read treasury")
	}
	return b, nil
}

func (s *Service) reportPoolShortfall(ctx context.Context, cert models.CertificateHandle, itemID id.ItemID, cause error) {
	s.logger.ErrorContext(ctx, "treasury pool shortfall: ledger owes more than the pool holds",
		"certificate_id", cert.ID.String(),
		"item_id", itemID.String(),
		"request_id", requestcontext.RequestID(ctx),
		"error", cause.Error(),
	)
	if s.metrics != nil {
		s.metrics.IncrementPoolShortfall()
	}
	s.emit(ctx, audit.EventPoolShortfall, audit.Event{Subject: cert.ID.String()})
}

func (s *Service) emit(ctx context.Context, event audit.AuditEvent, base audit.Event) {
	base.Action = string(event)
	base.Category = event.Category()
	base.RequestID = requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, string(event),
		"subject", base.Subject,
		"identity_id", base.IdentityID.String(),
		"amount", base.Amount,
		"request_id", base.RequestID,
		"log_type", "audit",
	)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, base); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}

func (s *Service) finish(span trace.Span, operation string, start time.Time, errp *error) {
	err := *errp
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, start, err)
	}
}

// itemError maps item store results to domain errors. Coded errors from
// model validation pass through.
func itemError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "item not found")
	}
	return asDomainError(err, "item store failure")
}

func certificateError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeUnknownCertificate, "unknown certificate")
	}
	return asDomainError(err, "claim ledger failure")
}

func asDomainError(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
