package reliability

import "testing"

func TestDeliveredSet(t *testing.T) {
	testCases := []struct {
		name   string
		window int
		add    []uint32
		has    []uint32
		hasNot []uint32
	}{
		{
			name:   "empty",
			window: 64,
			hasNot: []uint32{0, 1, 0xFFFFFFFF},
		},
		{
			name:   "out of order within window",
			window: 64,
			add:    []uint32{3, 1, 10},
			has:    []uint32{1, 3, 10},
			hasNot: []uint32{0, 2, 9, 11},
		},
		{
			name:   "older than the ack window but inside the set",
			window: 64,
			add:    []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			has:    []uint32{1, 10},
			hasNot: []uint32{0},
		},
		{
			name:   "sliding frees reused slots",
			window: 64,
			add:    []uint32{5, 69},
			has:    []uint32{69},
			hasNot: []uint32{68, 70, 6},
		},
		{
			name:   "beyond the window counts as delivered",
			window: 64,
			add:    []uint32{200},
			has:    []uint32{200, 136, 0},
			hasNot: []uint32{137, 199, 201},
		},
		{
			name:   "jump wider than the window clears",
			window: 64,
			add:    []uint32{1, 2, 1000},
			has:    []uint32{1000},
			hasNot: []uint32{999, 950},
		},
		{
			name:   "wraparound",
			window: 128,
			add:    []uint32{0xFFFFFFFE, 0xFFFFFFFF, 1},
			has:    []uint32{0xFFFFFFFE, 0xFFFFFFFF, 1},
			hasNot: []uint32{0, 2, 0xFFFFFFFD},
		},
		{
			name:   "window rounded up to a power of two",
			window: 100,
			add:    []uint32{130},
			hasNot: []uint32{3},
			has:    []uint32{2},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDeliveredSet(tc.window)
			for _, seq := range tc.add {
				d.Add(seq)
			}
			for _, seq := range tc.has {
				if !d.Has(seq) {
					t.Errorf("Has(%d) = false, want true", seq)
				}
			}
			for _, seq := range tc.hasNot {
				if d.Has(seq) {
					t.Errorf("Has(%d) = true, want false", seq)
				}
			}
		})
	}
}

func TestDeliveredSetReset(t *testing.T) {
	d := NewDeliveredSet(0)
	d.Add(7)
	d.Reset()
	if d.Has(7) {
		t.Error("Has(7) after Reset")
	}
	d.Add(3000)
	if !d.Has(3000) || d.Has(2999) {
		t.Error("set unusable after Reset")
	}
	if !d.Has(3000 - DefaultDeliveredWindow) {
		t.Error("number older than the default window not counted as delivered")
	}
}
