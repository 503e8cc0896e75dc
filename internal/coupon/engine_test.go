package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

type fakeStore struct {
	coupons map[string]*model.Coupon
	total   map[uint64]uint32
	perUser map[uint64]map[uint64]uint32
}

func newFakeStore(cs ...*model.Coupon) *fakeStore {
	s := &fakeStore{
		coupons: map[string]*model.Coupon{},
		total:   map[uint64]uint32{},
		perUser: map[uint64]map[uint64]uint32{},
	}
	for _, c := range cs {
		s.coupons[c.Code] = c
	}
	return s
}

func (s *fakeStore) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	c, ok := s.coupons[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) CountUsage(ctx context.Context, couponID uint64) (uint32, error) {
	return s.total[couponID], nil
}

func (s *fakeStore) CountUsageByUser(ctx context.Context, couponID, userID uint64) (uint32, error) {
	return s.perUser[couponID][userID], nil
}

func percent10() *model.Coupon {
	return &model.Coupon{
		ID: 1, Code: "PERCENT10", Type: model.CouponTypePercent,
		Value: 10, MaxDiscount: 5000, Active: true,
	}
}

func TestApplyPercentClampedToMaxDiscount(t *testing.T) {
	// 10% of 60000 is 6000 but max_discount caps it at 5000.
	e := NewEngine(newFakeStore(percent10()))
	d, cp, err := e.Apply(context.Background(), "PERCENT10", 60000, 7, nil)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(5000), d)
}

func TestApplyFixedNeverExceedsGross(t *testing.T) {
	e := NewEngine(newFakeStore(&model.Coupon{
		ID: 2, Code: "FLAT20K", Type: model.CouponTypeFixed, Value: 20000, Active: true,
	}))
	d, _, err := e.Apply(context.Background(), "FLAT20K", 15000, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), d)
}

func TestApplyFailsClosed(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	cases := []struct {
		name   string
		coupon *model.Coupon
		gross  int64
		dest   uint64
		user   *uint64
		want   error
	}{
		{name: "inactive", coupon: &model.Coupon{Code: "X", Type: "percent", Value: 10}, gross: 1000, want: ErrInactive},
		{name: "not started", coupon: &model.Coupon{Code: "X", Type: "percent", Value: 10, Active: true, StartsAt: &future}, gross: 1000, want: ErrOutsideWindow},
		{name: "ended", coupon: &model.Coupon{Code: "X", Type: "percent", Value: 10, Active: true, EndsAt: &past}, gross: 1000, want: ErrOutsideWindow},
		{name: "below min order", coupon: &model.Coupon{Code: "X", Type: "percent", Value: 10, Active: true, MinOrder: 5000}, gross: 1000, want: ErrBelowMinOrder},
		{name: "wrong destination", coupon: &model.Coupon{Code: "X", Type: "percent", Value: 10, Active: true, DestinationIDs: []uint64{1, 2}}, gross: 1000, dest: 9, want: ErrWrongDestination},
		{name: "per-user without identity", coupon: &model.Coupon{Code: "X", Type: "percent", Value: 10, Active: true, PerUserLimit: 1}, gross: 1000, want: ErrUserRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine(newFakeStore(tc.coupon))
			d, cp, err := e.Apply(context.Background(), "X", tc.gross, tc.dest, tc.user)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, d)
			assert.Nil(t, cp)
		})
	}
}

func TestApplyUnknownCode(t *testing.T) {
	e := NewEngine(newFakeStore())
	_, _, err := e.Apply(context.Background(), "NOPE", 1000, 7, nil)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestApplyUsageLimits(t *testing.T) {
	cp := percent10()
	cp.UsageLimit = 2
	cp.PerUserLimit = 1
	store := newFakeStore(cp)
	e := NewEngine(store)
	uid := uint64(7)

	d, _, err := e.Apply(context.Background(), "PERCENT10", 60000, 7, &uid)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), d)

	// Global limit reached.
	store.total[cp.ID] = 2
	_, _, err = e.Apply(context.Background(), "PERCENT10", 60000, 7, &uid)
	assert.ErrorIs(t, err, ErrUsageLimitReached)

	// Per-user limit reached.
	store.total[cp.ID] = 1
	store.perUser[cp.ID] = map[uint64]uint32{uid: 1}
	_, _, err = e.Apply(context.Background(), "PERCENT10", 60000, 7, &uid)
	assert.ErrorIs(t, err, ErrUserLimitReached)
}
