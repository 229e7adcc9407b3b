package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
)

// Backend is the subset of the backend client the cart service needs.
type Backend interface {
	GetCart(ctx context.Context, cartID string) (backend.Cart, error)
	AddCartItem(ctx context.Context, cartID string, in backend.CartItemInput) (backend.AddResult, error)
	DeleteCartItem(ctx context.Context, itemID string) error
	ApplyCoupon(ctx context.Context, cartID, code string) (string, error)
	RemoveCoupon(ctx context.Context, cartID string) (string, error)
	AddFreeItem(ctx context.Context, cartID, itemID, variantID string) (string, error)
}

// Change describes the single attribute being changed on a line.
type Change struct {
	Quantity *int
	Size     *string
	Meter    *decimal.Decimal
}

// Quantity builds a quantity change.
func Quantity(n int) Change { return Change{Quantity: &n} }

// Size builds a size change.
func Size(s string) Change { return Change{Size: &s} }

// Meter builds a length change for running material.
func Meter(m decimal.Decimal) Change { return Change{Meter: &m} }

func (c Change) label() string {
	switch {
	case c.Size != nil:
		return "Size"
	case c.Meter != nil:
		return "Length"
	default:
		return "Quantity"
	}
}

// Outcome is the result of a cart mutation.
type Outcome struct {
	Snapshot        Snapshot
	Message         string
	CouponReapplied bool
	// CouponDropped is set when a coupon was applied before the change and could not be
	// applied again afterwards.
	CouponDropped bool
}

// Service runs cart operations against the backend.
type Service struct {
	backend Backend
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*cartLock
}

// cartLock is a per-cart mutex shared by the callers currently holding or waiting on it.
type cartLock struct {
	sync.Mutex
	refs int
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the fallback logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a cart service.
func NewService(b Backend, opts ...Option) *Service {
	s := &Service{backend: b, logger: zap.NewNop(), locks: make(map[string]*cartLock)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return requestctx.LoggerOr(ctx, s.logger)
}

// lock serialises mutations of one cart within this process. Mutations from other processes
// or tabs still interleave; the refetch at the end of each mutation picks up their effects.
// The entry for a cart is dropped once nobody holds or waits on it.
func (s *Service) lock(cartID string) func() {
	s.mu.Lock()
	l, ok := s.locks[cartID]
	if !ok {
		l = &cartLock{}
		s.locks[cartID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, cartID)
		}
		s.mu.Unlock()
	}
}

// heldLocks reports how many carts have a live lock entry.
func (s *Service) heldLocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// Load fetches the cart. An unset cart id yields an empty snapshot without a backend call.
func (s *Service) Load(ctx context.Context, cartID string) (Snapshot, error) {
	if !ValidCartID(cartID) {
		return Snapshot{}, nil
	}
	c, err := s.backend.GetCart(ctx, cartID)
	if err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(c), nil
}

// ChangeQuantity sets a line's quantity.
func (s *Service) ChangeQuantity(ctx context.Context, cartID, itemID string, quantity int) (Outcome, error) {
	return s.ReplaceLine(ctx, cartID, itemID, Quantity(quantity))
}

// ChangeSize swaps a line to another size.
func (s *Service) ChangeSize(ctx context.Context, cartID, itemID, size string) (Outcome, error) {
	return s.ReplaceLine(ctx, cartID, itemID, Size(size))
}

// ChangeMeter sets the length of a running-material line.
func (s *Service) ChangeMeter(ctx context.Context, cartID, itemID string, meter decimal.Decimal) (Outcome, error) {
	return s.ReplaceLine(ctx, cartID, itemID, Meter(meter))
}

// ReplaceLine applies change to a line by deleting it and adding the changed line. The coupon
// applied beforehand is captured first and applied again once the new line is in. When the
// re-add fails the original line is added back once; the error then wraps ErrLineRestored or
// ErrLineLost along with the backend failure.
func (s *Service) ReplaceLine(ctx context.Context, cartID, itemID string, change Change) (Outcome, error) {
	if !ValidCartID(cartID) {
		return Outcome{}, ErrNoCart
	}
	unlock := s.lock(cartID)
	defer unlock()
	logger := s.log(ctx).With(zap.String("cartID", cartID), zap.String("itemID", itemID))

	before, err := s.backend.GetCart(ctx, cartID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load cart: %w", err)
	}
	coupon := AppliedCoupon(before)
	snap := newSnapshot(before)
	item, ok := snap.Item(itemID)
	if !ok {
		return Outcome{}, ErrItemNotFound
	}
	original := lineInput(item)
	changed, err := applyChange(item, original, change)
	if err != nil {
		return Outcome{}, err
	}

	if err := s.backend.DeleteCartItem(ctx, itemID); err != nil {
		return Outcome{}, fmt.Errorf("delete item: %w", err)
	}

	added, addErr := s.backend.AddCartItem(ctx, cartID, changed)
	if addErr != nil {
		logger.Warn("re-add after delete failed; restoring original line", zap.Error(addErr))
		if _, err := s.backend.AddCartItem(ctx, cartID, original); err != nil {
			logger.Error("restore of original line failed", zap.Error(err))
			snap, _ := s.Load(ctx, cartID)
			return Outcome{Snapshot: snap}, fmt.Errorf("%w: %w", ErrLineLost, addErr)
		}
		s.reapplyCoupon(ctx, logger, cartID, coupon)
		snap, _ := s.Load(ctx, cartID)
		return Outcome{Snapshot: snap}, fmt.Errorf("%w: %w", ErrLineRestored, addErr)
	}
	if ValidCartID(string(added.CartID)) {
		cartID = string(added.CartID)
	}

	out := Outcome{Message: change.label() + " updated"}
	if _, err := s.Load(ctx, cartID); err != nil {
		return Outcome{}, fmt.Errorf("refresh cart: %w", err)
	}
	if coupon != "" {
		out.CouponReapplied = s.reapplyCoupon(ctx, logger, cartID, coupon)
		out.CouponDropped = !out.CouponReapplied
	}
	final, err := s.Load(ctx, cartID)
	if err != nil {
		return Outcome{}, fmt.Errorf("refresh cart: %w", err)
	}
	out.Snapshot = final
	if out.CouponDropped {
		out.Message += fmt.Sprintf(". Coupon %s no longer applies", coupon)
	}
	return out, nil
}

func (s *Service) reapplyCoupon(ctx context.Context, logger *zap.Logger, cartID, coupon string) bool {
	if coupon == "" {
		return false
	}
	if _, err := s.backend.ApplyCoupon(ctx, cartID, coupon); err != nil {
		logger.Info("coupon not reapplied", zap.String("coupon", coupon), zap.Error(err))
		return false
	}
	return true
}

func lineInput(item backend.CartItem) backend.CartItemInput {
	p := item.Product()
	in := backend.CartItemInput{ProductID: p.ProductID, VariantID: p.VariantID}
	switch p.SizeType {
	case backend.SizeTypeRunning:
		m := item.SelectedMeter
		in.Meter = &m
	case backend.SizeTypeClothing:
		in.Size = item.SelectedSize
		in.Quantity = max(item.SelectedQuantity, 1)
	default:
		in.Quantity = max(item.SelectedQuantity, 1)
	}
	return in
}

func applyChange(item backend.CartItem, base backend.CartItemInput, change Change) (backend.CartItemInput, error) {
	p := item.Product()
	out := base
	switch {
	case change.Meter != nil:
		if p.SizeType != backend.SizeTypeRunning {
			return out, fmt.Errorf("%w: length applies to running material only", ErrInvalidChange)
		}
		if !change.Meter.IsPositive() {
			return out, fmt.Errorf("%w: length must be positive", ErrInvalidChange)
		}
		m := *change.Meter
		out.Meter = &m
	case change.Size != nil:
		size := strings.TrimSpace(*change.Size)
		if p.SizeType != backend.SizeTypeClothing {
			return out, fmt.Errorf("%w: size applies to clothing only", ErrInvalidChange)
		}
		if size == "" || (len(p.AvailableSizes) > 0 && !slices.Contains(p.AvailableSizes, size)) {
			return out, fmt.Errorf("%w: size %q not offered", ErrInvalidChange, size)
		}
		out.Size = size
	case change.Quantity != nil:
		if p.SizeType == backend.SizeTypeRunning {
			return out, fmt.Errorf("%w: running material is sold by length", ErrInvalidChange)
		}
		if *change.Quantity < 1 {
			return out, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidChange)
		}
		out.Quantity = *change.Quantity
	default:
		return out, fmt.Errorf("%w: nothing to change", ErrInvalidChange)
	}
	return out, nil
}

// AddItem adds a line. Without a cart the backend is asked to create one; the returned
// snapshot carries the cart id to remember.
func (s *Service) AddItem(ctx context.Context, cartID string, in backend.CartItemInput) (Outcome, error) {
	if in.ProductID.Empty() {
		return Outcome{}, fmt.Errorf("%w: product required", ErrInvalidChange)
	}
	if in.Meter == nil && in.Quantity <= 0 {
		in.Quantity = 1
	}
	if !ValidCartID(cartID) {
		cartID = backend.NewCartID
	}
	unlock := s.lock(cartID)
	defer unlock()
	res, err := s.backend.AddCartItem(ctx, cartID, in)
	if err != nil {
		return Outcome{}, err
	}
	if ValidCartID(string(res.CartID)) {
		cartID = string(res.CartID)
	}
	snap, err := s.Load(ctx, cartID)
	if err != nil {
		return Outcome{}, fmt.Errorf("refresh cart: %w", err)
	}
	return Outcome{Snapshot: snap, Message: "Added to cart"}, nil
}

// ApplyCoupon applies a coupon code. Codes are trimmed and upper-cased; validity is the
// backend's decision.
func (s *Service) ApplyCoupon(ctx context.Context, cartID, code string) (Outcome, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Outcome{}, ErrCouponRequired
	}
	if !ValidCartID(cartID) {
		return Outcome{}, ErrNoCart
	}
	unlock := s.lock(cartID)
	defer unlock()
	msg, err := s.backend.ApplyCoupon(ctx, cartID, code)
	if err != nil {
		return Outcome{}, err
	}
	snap, err := s.Load(ctx, cartID)
	if err != nil {
		return Outcome{}, fmt.Errorf("refresh cart: %w", err)
	}
	return Outcome{Snapshot: snap, Message: orDefault(msg, "Coupon "+code+" applied")}, nil
}

// RemoveCoupon clears the applied coupon.
func (s *Service) RemoveCoupon(ctx context.Context, cartID string) (Outcome, error) {
	if !ValidCartID(cartID) {
		return Outcome{}, ErrNoCart
	}
	unlock := s.lock(cartID)
	defer unlock()
	msg, err := s.backend.RemoveCoupon(ctx, cartID)
	if err != nil {
		return Outcome{}, err
	}
	snap, err := s.Load(ctx, cartID)
	if err != nil {
		return Outcome{}, fmt.Errorf("refresh cart: %w", err)
	}
	return Outcome{Snapshot: snap, Message: orDefault(msg, "Coupon removed")}, nil
}

// AddFreeItem attaches the chosen free variant to a BOGO line.
func (s *Service) AddFreeItem(ctx context.Context, cartID, itemID, variantID string) (Outcome, error) {
	if !ValidCartID(cartID) {
		return Outcome{}, ErrNoCart
	}
	if strings.TrimSpace(variantID) == "" {
		return Outcome{}, fmt.Errorf("%w: choose a free item", ErrInvalidChange)
	}
	unlock := s.lock(cartID)
	defer unlock()
	msg, err := s.backend.AddFreeItem(ctx, cartID, itemID, variantID)
	if err != nil {
		return Outcome{}, err
	}
	snap, err := s.Load(ctx, cartID)
	if err != nil {
		return Outcome{}, fmt.Errorf("refresh cart: %w", err)
	}
	return Outcome{Snapshot: snap, Message: orDefault(msg, "Free item added")}, nil
}

// UserMessage turns a cart or backend error into shopper-facing text.
func UserMessage(err error) string {
	if msg := Message(err); msg != "" {
		return msg
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return backend.UserMessage(err, "Something went wrong. Please try again.")
	}
	return "Something went wrong. Please try again."
}

func orDefault(msg, fallback string) string {
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}
