package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardplane/pkg/db"
	"rewardplane/pkg/db/option"
	"rewardplane/pkg/db/pagination"
	"rewardplane/pkg/errutil"
	"rewardplane/pkg/repository"
	"rewardplane/pkg/sequence"
)

// ErrDuplicateIdempotencyKey marks a re-delivered source event. Callers treat
// it as success-equivalent: the reward was already applied exactly once.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already applied")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	entries repository.Repository[Entry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Seq  sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		seq:     p.Seq,
		entries: repository.ProvideStore[Entry](p.DB),
	}
}

// WithTrx returns a copy of the service bound to tx, so callers can append
// entries inside their own transaction.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	cp := *s
	cp.db = tx
	cp.entries = repository.ProvideStore[Entry](tx)
	return &cp
}

type AppendParams struct {
	UserID         string
	IdempotencyKey string
	EventType      string
	Amount         decimal.Decimal
	Breakdown      []byte
	Description    string
}

// Append writes one ledger entry, chaining its hash onto the user's previous
// entry. The (user_id, idempotency_key) unique index is the authoritative
// duplicate guard; the pre-check only short-circuits the common retry path.
func (s *Service) Append(ctx context.Context, p AppendParams) (*Entry, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", p.UserID),
		zap.String("idempotency_key", p.IdempotencyKey),
	}

	if p.UserID == "" || p.IdempotencyKey == "" {
		return nil, errutil.BadRequest("user_id and idempotency_key are required", nil)
	}

	if exist, err := s.entries.FindOne(ctx, &Entry{UserID: p.UserID, IdempotencyKey: p.IdempotencyKey}); err != nil {
		return nil, err
	} else if exist != nil {
		zap.L().With(opts...).Warn("idempotency key already applied")
		return nil, errutil.Conflict("idempotency key already applied", nil, errutil.WithErr(ErrDuplicateIdempotencyKey))
	}

	transactionID, err := s.nextTransactionCode(ctx, p.UserID)
	if err != nil {
		zap.L().With(opts...).Error("failed to generate transaction code", zap.Error(err))
		return nil, err
	}

	entry := NewEntry(EntryParams{
		EntryID:        s.node.Generate().String(),
		UserID:         p.UserID,
		IdempotencyKey: p.IdempotencyKey,
		EventType:      p.EventType,
		Amount:         p.Amount.Round(2),
		Breakdown:      p.Breakdown,
		TransactionID:  transactionID,
		Description:    p.Description,
	})

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lastEntry, err := s.lastEntry(ctx, tx, p.UserID)
		if err != nil {
			return err
		}

		entry.PreviousHash = "GENESIS"
		if lastEntry != nil {
			entry.PreviousHash = lastEntry.Hash
		}

		entry.CreatedAt = time.Now().UTC()
		entry.Hash = entry.GenerateHash()

		return s.entries.WithTrx(tx).Create(ctx, entry)
	}); err != nil {
		if db.IsUniqueViolation(err) {
			zap.L().With(opts...).Warn("idempotency key lost insert race")
			return nil, errutil.Conflict("idempotency key already applied", nil, errutil.WithErr(ErrDuplicateIdempotencyKey))
		}
		zap.L().With(opts...).Error("failed to append ledger entry", zap.Error(err))
		return nil, err
	}

	return entry, nil
}

// FindByIdempotencyKey returns the stored entry for a source event, or nil.
// Used by callers that received ErrDuplicateIdempotencyKey and want the
// breakdown of the original application.
func (s *Service) FindByIdempotencyKey(ctx context.Context, userID, key string) (*Entry, error) {
	return s.entries.FindOne(ctx, &Entry{UserID: userID, IdempotencyKey: key})
}

type Filter struct {
	EventType string
	pagination.Pagination
}

// ListForUser returns entries ordered by created_at with the id breaking
// ties, cursor-paginated on the same key pair. Snowflake ids are generated
// before the serialized insert, so id order alone can invert insert order
// under concurrent appends. Audit/export only; live balances come from the
// balance service.
func (s *Service) ListForUser(ctx context.Context, userID string, filter Filter) ([]*Entry, *pagination.PageInfo, error) {
	if userID == "" {
		return nil, nil, errutil.BadRequest("user_id is required", nil)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
		option.WithLimit(limit + 1),
	}

	if filter.Cursor != "" {
		cursor, err := pagination.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", nil, errutil.WithErr(err))
		}
		after, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", nil, errutil.WithErr(err))
		}
		opts = append(opts, option.AfterKeyset("created_at", "id", after, cursor.ID))
	}

	entries, err := s.entries.Find(ctx, &Entry{UserID: userID, EventType: filter.EventType}, opts...)
	if err != nil {
		zap.L().Error("failed to list ledger entries", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, err
	}

	entries, pageInfo := pagination.BuildCursorPageInfo(entries, limit, func(e *Entry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID, CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})

	return entries, pageInfo, nil
}

// SumForUser totals all signed amounts for reconciliation against the
// balance row. The amounts are summed as decimals after decoding; SQL SUM
// on a numeric column runs in binary floats on sqlite and drifts.
func (s *Service) SumForUser(ctx context.Context, userID string) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("user_id = ?", userID).
		Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, amount := range amounts {
		sum = sum.Add(amount)
	}
	return sum, nil
}

// CountSince counts a user's entries of one event type since a point in time.
// Feeds the sessions-this-week statistic.
func (s *Service) CountSince(ctx context.Context, userID, eventType string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("user_id = ? AND event_type = ? AND created_at >= ?", userID, eventType, since).
		Count(&count).Error
	return count, err
}

// ActiveDays returns the distinct UTC days on which the user has any ledger
// entry, newest first. Used by the default streak derivation.
func (s *Service) ActiveDays(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	entries, err := s.entries.Find(ctx, &Entry{UserID: userID},
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.GTE, Value: since}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return nil, err
	}

	days := make([]time.Time, 0)
	seen := make(map[string]bool)
	for _, e := range entries {
		day := e.CreatedAt.UTC().Truncate(24 * time.Hour)
		key := day.Format("2006-01-02")
		if !seen[key] {
			seen[key] = true
			days = append(days, day)
		}
	}
	return days, nil
}

// VerifyChain re-derives every hash in the user's chain and checks the links.
func (s *Service) VerifyChain(ctx context.Context, userID string) (bool, error) {
	entries, err := s.entries.Find(ctx, &Entry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return false, err
	}

	lastHash := "GENESIS"
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}

func (s *Service) lastEntry(ctx context.Context, tx *gorm.DB, userID string) (*Entry, error) {
	return s.entries.WithTrx(tx).FindOne(ctx, &Entry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.WithLockingUpdate(),
	)
}

func (s *Service) nextTransactionCode(ctx context.Context, userID string) (string, error) {
	if s.seq != nil {
		return s.seq.NextTransactionCode(ctx, userID)
	}
	// no redis wired (tests, single-process tools): snowflake is unique enough
	return fmt.Sprintf("TXN-%s", s.node.Generate().String()), nil
}
