package resource

import (
	"errors"
	"testing"

	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
)

var testToken = ids.WellKnown(ids.EntityGlobalFungibleResource, "test-token")

var testBadge = ids.WellKnown(ids.EntityGlobalNonFungibleResource, "test-badge")

// fungibleWith returns a balance holding amount.
func fungibleWith(t *testing.T, amount string) *LockableResource {
	t.Helper()

	l := NewFungible(testToken, 18)
	l.amount = decimal.MustParse(amount)

	return l
}

// nonFungibleWith returns a balance holding integer ids.
func nonFungibleWith(t *testing.T, list ...uint64) *LockableResource {
	t.Helper()

	l := NewNonFungible(testBadge)
	for _, n := range list {
		l.ids.Add(IntegerId(n))
	}

	return l
}

// TestLockCapacity checks that locked amounts cannot be taken.
func TestLockCapacity(t *testing.T) {
	l := fungibleWith(t, "100")

	if _, err := l.LockByAmount(decimal.New(40)); err != nil {
		t.Fatalf("LockByAmount: %v", err)
	}

	if _, err := l.TakeByAmount(decimal.New(70)); !errors.Is(err, ErrInsufficientFree) {
		t.Fatalf("take 70 error = %v, want ErrInsufficientFree", err)
	}

	taken, err := l.TakeByAmount(decimal.New(50))
	if err != nil {
		t.Fatalf("take 50: %v", err)
	}

	if !taken.Total().Eq(decimal.New(50)) {
		t.Errorf("taken = %s, want 50", taken.Total())
	}
	if !l.Total().Eq(decimal.New(50)) {
		t.Errorf("total = %s, want 50", l.Total())
	}
	if !l.Free().Eq(decimal.New(10)) {
		t.Errorf("free = %s, want 10", l.Free())
	}
}

func TestLocksAreExclusive(t *testing.T) {
	l := fungibleWith(t, "10")

	if _, err := l.LockByAmount(decimal.New(6)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LockByAmount(decimal.New(5)); !errors.Is(err, ErrInsufficientFree) {
		t.Fatalf("second lock error = %v, want ErrInsufficientFree", err)
	}
	if _, err := l.LockByAmount(decimal.New(4)); err != nil {
		t.Fatalf("lock remaining 4: %v", err)
	}
	if !l.Free().IsZero() {
		t.Errorf("free = %s, want 0", l.Free())
	}
}

func TestRetainAndUnlock(t *testing.T) {
	l := fungibleWith(t, "10")

	id, err := l.LockByAmount(decimal.New(4))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Retain(id); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	// Two references: the first unlock keeps the capacity pinned.
	if err := l.Unlock(id); err != nil {
		t.Fatal(err)
	}
	if !l.Free().Eq(decimal.New(6)) {
		t.Errorf("free after first unlock = %s, want 6", l.Free())
	}

	if err := l.Unlock(id); err != nil {
		t.Fatal(err)
	}
	if !l.Free().Eq(decimal.New(10)) || l.IsLocked() {
		t.Errorf("free after last unlock = %s, want 10", l.Free())
	}

	if err := l.Unlock(id); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("unlock released entry error = %v, want ErrUnknownLock", err)
	}
	if err := l.Retain(99); !errors.Is(err, ErrUnknownLock) {
		t.Errorf("retain unknown error = %v, want ErrUnknownLock", err)
	}
}

func TestNonFungibleLocking(t *testing.T) {
	l := nonFungibleWith(t, 1, 2, 3)

	if _, err := l.LockByIds(NewIdSet(IntegerId(1))); err != nil {
		t.Fatalf("LockByIds: %v", err)
	}

	if _, err := l.TakeByIds(NewIdSet(IntegerId(1))); !errors.Is(err, ErrInsufficientFree) {
		t.Errorf("take locked id error = %v, want ErrInsufficientFree", err)
	}
	if _, err := l.LockByIds(NewIdSet(IntegerId(9))); !errors.Is(err, ErrIdNotFound) {
		t.Errorf("lock missing id error = %v, want ErrIdNotFound", err)
	}

	// Taking by amount skips locked ids.
	taken, err := l.TakeByAmount(decimal.New(1))
	if err != nil {
		t.Fatalf("TakeByAmount: %v", err)
	}
	if !taken.ids.Contains(IntegerId(2)) {
		t.Errorf("taken ids = %v, want #2#", taken.ids.Strings())
	}

	if _, err := l.TakeByAmount(decimal.MustParse("0.5")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("fractional take error = %v, want ErrInvalidAmount", err)
	}

	rest := l.TakeAll()
	if rest.ids.Len() != 1 || !rest.ids.Contains(IntegerId(3)) {
		t.Errorf("TakeAll = %v, want [#3#]", rest.ids.Strings())
	}
	if !l.Total().Eq(decimal.New(1)) {
		t.Errorf("remaining total = %s, want 1 locked id", l.Total())
	}
}

func TestKindAndResourceMismatch(t *testing.T) {
	f := fungibleWith(t, "5")
	nf := nonFungibleWith(t, 1)

	if _, err := f.LockByIds(NewIdSet(IntegerId(1))); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("lock ids on fungible error = %v, want ErrKindMismatch", err)
	}
	if _, err := f.TakeByIds(NewIdSet(IntegerId(1))); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("take ids on fungible error = %v, want ErrKindMismatch", err)
	}
	if err := f.Put(nf); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("put non-fungible into fungible error = %v, want ErrKindMismatch", err)
	}

	other := NewFungible(ids.WellKnown(ids.EntityGlobalFungibleResource, "other"), 18)
	if err := f.Put(other); !errors.Is(err, ErrResourceMismatch) {
		t.Errorf("put other resource error = %v, want ErrResourceMismatch", err)
	}
}

func TestPutRules(t *testing.T) {
	a := nonFungibleWith(t, 1, 2)
	b := nonFungibleWith(t, 2)

	if err := a.Put(b); !errors.Is(err, ErrDuplicateId) {
		t.Errorf("duplicate put error = %v, want ErrDuplicateId", err)
	}

	src := fungibleWith(t, "3")
	dst := fungibleWith(t, "1")
	if _, err := src.LockByAmount(decimal.New(1)); err != nil {
		t.Fatal(err)
	}
	if err := dst.Put(src); !errors.Is(err, ErrContainerLocked) {
		t.Errorf("put locked balance error = %v, want ErrContainerLocked", err)
	}
}

func TestDivisibility(t *testing.T) {
	l := NewFungible(testToken, 2)
	l.amount = decimal.New(1)

	if _, err := l.TakeByAmount(decimal.MustParse("0.001")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("take 0.001 error = %v, want ErrInvalidAmount", err)
	}
	if _, err := l.TakeByAmount(decimal.MustParse("0.25")); err != nil {
		t.Errorf("take 0.25: %v", err)
	}
}

func TestLockableEncoding(t *testing.T) {
	l := nonFungibleWith(t, 1, 2, 3)
	id, err := l.LockByIds(NewIdSet(IntegerId(2)))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Retain(id); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeLockable(l.Encode())
	if err != nil {
		t.Fatalf("DecodeLockable: %v", err)
	}

	if got.Resource != testBadge || got.Kind != NonFungible || got.ids.Len() != 3 {
		t.Errorf("decoded = %+v", got)
	}
	e, ok := got.Lock(id)
	if !ok || e.Refs != 2 || !e.Ids.Contains(IntegerId(2)) {
		t.Errorf("decoded lock = %+v, %v", e, ok)
	}

	// The lock counter survives, so new locks get fresh ids.
	next, err := got.LockByIds(NewIdSet(IntegerId(3)))
	if err != nil || next == id {
		t.Errorf("next lock id = %d (%v), previous %d", next, err, id)
	}

	if _, err := DecodeLockable([]byte{9}); !errors.Is(err, ErrCorruptState) {
		t.Errorf("corrupt decode error = %v, want ErrCorruptState", err)
	}
}
