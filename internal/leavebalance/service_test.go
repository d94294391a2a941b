package leavebalance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/payroll-ledger/internal/platform/cache"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	records      map[int64]Record
	nextID       int64
	summaryCalls int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[int64]Record)}
}

func (r *memoryRepo) findKey(k Key) (Record, bool) {
	for _, rec := range r.records {
		if rec.Key() == k {
			return rec, true
		}
	}
	return Record{}, false
}

func (r *memoryRepo) Insert(ctx context.Context, in CreateInput) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.findKey(Key{EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, Year: in.Year}); exists {
		return Record{}, ErrDuplicateBalance
	}
	r.nextID++
	now := time.Now()
	rec := Record{
		ID:           r.nextID,
		EmployeeID:   in.EmployeeID,
		LeaveTypeID:  in.LeaveTypeID,
		Year:         in.Year,
		TotalAccrued: in.TotalAccrued,
		CarryForward: in.CarryForward,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, in UpdateInput) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	rec = in.Apply(rec)
	rec.UpdatedAt = time.Now()
	r.records[id] = rec
	return rec, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memoryRepo) Accrue(ctx context.Context, grants []Grant) (AccrueResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res AccrueResult
	for _, g := range grants {
		if rec, ok := r.findKey(g.Key); ok {
			rec.TotalAccrued = rec.TotalAccrued.Add(g.Days)
			r.records[rec.ID] = rec
			res.Updated++
			continue
		}
		r.nextID++
		r.records[r.nextID] = Record{
			ID:           r.nextID,
			EmployeeID:   g.EmployeeID,
			LeaveTypeID:  g.LeaveTypeID,
			Year:         g.Year,
			TotalAccrued: g.Days,
		}
		res.Created++
	}
	return res, nil
}

func (r *memoryRepo) List(ctx context.Context, filter Filter, limit, offset int) ([]Record, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Record
	for _, rec := range r.records {
		if filter.EmployeeID != nil && rec.EmployeeID != *filter.EmployeeID {
			continue
		}
		if filter.LeaveTypeID != nil && rec.LeaveTypeID != *filter.LeaveTypeID {
			continue
		}
		if filter.Year != nil && rec.Year != *filter.Year {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		if a.LeaveTypeID != b.LeaveTypeID {
			return a.LeaveTypeID < b.LeaveTypeID
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.ID < b.ID
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (r *memoryRepo) Summary(ctx context.Context, year int) ([]TypeSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaryCalls++
	byType := map[int64]*TypeSummary{}
	for _, rec := range r.records {
		if rec.Year != year {
			continue
		}
		s, ok := byType[rec.LeaveTypeID]
		if !ok {
			s = &TypeSummary{LeaveTypeID: rec.LeaveTypeID}
			byType[rec.LeaveTypeID] = s
		}
		s.Records++
		s.TotalAccrued = s.TotalAccrued.Add(rec.TotalAccrued)
		s.TotalCarryForward = s.TotalCarryForward.Add(rec.CarryForward)
		s.TotalTaken = s.TotalTaken.Add(rec.TotalTaken)
		s.TotalPending = s.TotalPending.Add(rec.TotalPending)
		s.TotalBalance = s.TotalBalance.Add(rec.Balance())
	}
	out := make([]TypeSummary, 0, len(byType))
	for _, s := range byType {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveTypeID < out[j].LeaveTypeID })
	return out, nil
}

type stubRoster struct {
	ids []int64
	err error
}

func (s stubRoster) ActiveEmployeeIDs(ctx context.Context) ([]int64, error) {
	return s.ids, s.err
}

type stubLeaveTypes map[int64]bool

func (s stubLeaveTypes) ActiveLeaveTypes(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, id := range ids {
		if s[id] {
			out[id] = true
		}
	}
	return out, nil
}

const (
	sickLeave   int64 = 1
	casualLeave int64 = 2
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func dp(v string) *decimal.Decimal {
	x := d(v)
	return &x
}

func newTestService(t *testing.T, repo *memoryRepo, roster []int64) *Service {
	t.Helper()
	return NewService(repo, stubRoster{ids: roster}, stubLeaveTypes{sickLeave: true, casualLeave: true}, nil, nil)
}

func TestBalanceIsDerivedFromLedgerFields(t *testing.T) {
	rec := Record{TotalAccrued: d("12"), CarryForward: d("3.5"), TotalTaken: d("4"), TotalPending: d("1")}
	require.True(t, rec.Balance().Equal(d("10.5")))
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{EmployeeID: 7, LeaveTypeID: sickLeave, Year: 2025, TotalAccrued: d("10"), CarryForward: d("2")})
	require.NoError(t, err)
	require.True(t, rec.TotalTaken.IsZero())
	require.True(t, rec.TotalPending.IsZero())
	require.True(t, rec.Balance().Equal(d("12")))

	_, err = svc.Create(ctx, CreateInput{EmployeeID: 7, LeaveTypeID: sickLeave, Year: 2025, TotalAccrued: d("1")})
	require.ErrorIs(t, err, shared.ErrDuplicateRecord)
	require.Len(t, repo.records, 1)
}

func TestCreateValidatesInput(t *testing.T) {
	svc := newTestService(t, newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{EmployeeID: 1, LeaveTypeID: sickLeave, Year: 2025, TotalAccrued: d("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, CreateInput{LeaveTypeID: sickLeave, Year: 2025})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, CreateInput{EmployeeID: 1, LeaveTypeID: sickLeave, Year: 1800})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateOverwritesAndAllowsNegativeBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{EmployeeID: 3, LeaveTypeID: casualLeave, Year: 2025, TotalAccrued: d("10")})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, rec.ID, UpdateInput{TotalTaken: dp("8"), TotalPending: dp("4")})
	require.NoError(t, err)
	require.True(t, updated.TotalAccrued.Equal(d("10")), "untouched fields keep their value")
	require.True(t, updated.TotalTaken.Equal(d("8")))
	require.True(t, updated.Balance().Equal(d("-2")))

	updated, err = svc.Update(ctx, rec.ID, UpdateInput{TotalTaken: dp("1")})
	require.NoError(t, err)
	require.True(t, updated.TotalTaken.Equal(d("1")), "update overwrites rather than adds")
	require.True(t, updated.Balance().Equal(updated.TotalAccrued.Add(updated.CarryForward).Sub(updated.TotalTaken).Sub(updated.TotalPending)))

	_, err = svc.Update(ctx, rec.ID, UpdateInput{TotalTaken: dp("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Update(ctx, 999, UpdateInput{TotalTaken: dp("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)

	same, err := svc.Update(ctx, rec.ID, UpdateInput{})
	require.NoError(t, err)
	require.Equal(t, updated.TotalTaken, same.TotalTaken)
}

func TestDeleteMissingRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	require.ErrorIs(t, svc.Delete(ctx, 42), shared.ErrNotFound)

	rec, err := svc.Create(ctx, CreateInput{EmployeeID: 1, LeaveTypeID: sickLeave, Year: 2025})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, rec.ID))
	_, err = svc.Get(ctx, rec.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestBulkInitializeIsAdditiveAndNotIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, []int64{1, 2})
	ctx := context.Background()

	existing, err := svc.Create(ctx, CreateInput{EmployeeID: 1, LeaveTypeID: sickLeave, Year: 2025, TotalAccrued: d("10")})
	require.NoError(t, err)

	in := BulkInitializeInput{Year: 2025, Allocations: []Allocation{{LeaveTypeID: sickLeave, Days: d("5")}}}
	res, err := svc.BulkInitialize(ctx, in)
	require.NoError(t, err)
	require.Equal(t, BulkInitializeResult{Created: 1, Updated: 1, Employees: 2, LeaveTypes: 1}, res)

	rec, err := svc.Get(ctx, existing.ID)
	require.NoError(t, err)
	require.True(t, rec.TotalAccrued.Equal(d("15")))

	res, err = svc.BulkInitialize(ctx, in)
	require.NoError(t, err)
	require.Equal(t, 0, res.Created)
	require.Equal(t, 2, res.Updated)

	rec, err = svc.Get(ctx, existing.ID)
	require.NoError(t, err)
	require.True(t, rec.TotalAccrued.Equal(d("20")), "second run tops up again")
}

func TestBulkInitializeTwiceOnExistingTen(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, []int64{9})
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{EmployeeID: 9, LeaveTypeID: sickLeave, Year: 2025, TotalAccrued: d("10")})
	require.NoError(t, err)

	in := BulkInitializeInput{Year: 2025, Allocations: []Allocation{{LeaveTypeID: sickLeave, Days: d("5")}}}
	_, err = svc.BulkInitialize(ctx, in)
	require.NoError(t, err)
	_, err = svc.BulkInitialize(ctx, in)
	require.NoError(t, err)

	rec, err = svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, rec.TotalAccrued.Equal(d("20")))
}

func TestBulkInitializeConcurrentTopUpsDoNotLoseAdditions(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, []int64{1})
	ctx := context.Background()
	in := BulkInitializeInput{Year: 2025, Allocations: []Allocation{{LeaveTypeID: sickLeave, Days: d("1")}}}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.BulkInitialize(ctx, in)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, Filter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.True(t, page.Records[0].TotalAccrued.Equal(d("20")))
}

func TestBulkInitializeValidation(t *testing.T) {
	svc := newTestService(t, newMemoryRepo(), []int64{1})
	ctx := context.Background()

	_, err := svc.BulkInitialize(ctx, BulkInitializeInput{Year: 2025})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.BulkInitialize(ctx, BulkInitializeInput{Year: 2025, Allocations: []Allocation{{LeaveTypeID: 99, Days: d("3")}, {LeaveTypeID: 98, Days: d("1")}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "[98 99]")

	_, err = svc.BulkInitialize(ctx, BulkInitializeInput{Year: 2025, Allocations: []Allocation{{LeaveTypeID: sickLeave, Days: d("-3")}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.BulkInitialize(ctx, BulkInitializeInput{Year: 2025, Allocations: []Allocation{{LeaveTypeID: sickLeave, Days: d("1")}, {LeaveTypeID: sickLeave, Days: d("2")}}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestBulkInitializeExplicitEmployeesAndRosterErrors(t *testing.T) {
	repo := newMemoryRepo()
	rosterErr := errors.New("roster offline")
	svc := NewService(repo, stubRoster{err: rosterErr}, nil, nil, nil)
	ctx := context.Background()
	alloc := []Allocation{{LeaveTypeID: sickLeave, Days: d("2")}, {LeaveTypeID: casualLeave, Days: d("1")}}

	_, err := svc.BulkInitialize(ctx, BulkInitializeInput{Year: 2025, Allocations: alloc})
	require.ErrorIs(t, err, rosterErr)

	res, err := svc.BulkInitialize(ctx, BulkInitializeInput{Year: 2025, Allocations: alloc, EmployeeIDs: []int64{4, 5, 4}})
	require.NoError(t, err)
	require.Equal(t, BulkInitializeResult{Created: 4, Employees: 2, LeaveTypes: 2}, res)
}

func TestListIsPaginatedAndOrdered(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()
	for _, in := range []CreateInput{
		{EmployeeID: 2, LeaveTypeID: casualLeave, Year: 2025},
		{EmployeeID: 1, LeaveTypeID: casualLeave, Year: 2025},
		{EmployeeID: 2, LeaveTypeID: sickLeave, Year: 2025},
		{EmployeeID: 1, LeaveTypeID: sickLeave, Year: 2024},
	} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, Filter{}, 1, 3)
	require.NoError(t, err)
	require.Equal(t, 4, page.Pagination.Total)
	require.Equal(t, 2, page.Pagination.TotalPages)
	require.Len(t, page.Records, 3)
	require.Equal(t, Key{1, sickLeave, 2024}, page.Records[0].Key())
	require.Equal(t, Key{1, casualLeave, 2025}, page.Records[1].Key())
	require.Equal(t, Key{2, sickLeave, 2025}, page.Records[2].Key())

	year := 2025
	page, err = svc.List(ctx, Filter{Year: &year}, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Records, 3)

	missing := int64(77)
	page, err = svc.List(ctx, Filter{EmployeeID: &missing}, 1, 20)
	require.NoError(t, err)
	require.NotNil(t, page.Records)
	require.Empty(t, page.Records)
}

func TestSummaryIsCachedAndInvalidatedOnWrite(t *testing.T) {
	repo := newMemoryRepo()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(repo, stubRoster{ids: []int64{1, 2}}, nil, cache.NewVersioned(client, "leave", time.Minute), nil)
	ctx := context.Background()

	_, err := svc.BulkInitialize(ctx, BulkInitializeInput{Year: 2025, Allocations: []Allocation{{LeaveTypeID: sickLeave, Days: d("6")}}})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	require.Equal(t, 2, summary[0].Records)
	require.True(t, summary[0].TotalBalance.Equal(d("12")))

	_, err = svc.Summary(ctx, 2025)
	require.NoError(t, err)
	require.Equal(t, 1, repo.summaryCalls)

	_, err = svc.Create(ctx, CreateInput{EmployeeID: 3, LeaveTypeID: sickLeave, Year: 2025, TotalAccrued: d("1")})
	require.NoError(t, err)
	summary, err = svc.Summary(ctx, 2025)
	require.NoError(t, err)
	require.Equal(t, 2, repo.summaryCalls)
	require.Equal(t, 3, summary[0].Records)
}
