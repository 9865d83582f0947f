package inventory

import "testing"

func TestDefaultsAreOrderedAndUnique(t *testing.T) {
	inv, err := New(Defaults())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ids := inv.IDs()
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("unexpected ids %v", ids)
	}
	d, ok := inv.Lookup(2)
	if !ok || d.HardwareType != "woa" || d.ComPort != "COM4" {
		t.Fatalf("unexpected device %+v", d)
	}
	if _, ok := inv.Lookup(-1); ok {
		t.Fatalf("sentinel id must not resolve")
	}
}

func TestNewRejectsBadDevices(t *testing.T) {
	if _, err := New([]Device{{ID: 1}, {ID: 1}}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := New([]Device{{ID: 0}}); err == nil {
		t.Fatalf("expected non-positive id error")
	}
}

func TestIDsIsACopy(t *testing.T) {
	inv, _ := New(Defaults())
	ids := inv.IDs()
	ids[0] = 99
	if inv.IDs()[0] != 1 {
		t.Fatalf("inventory mutated through IDs")
	}
}
