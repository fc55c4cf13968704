package pool

import (
	"testing"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func slotsWithIndexes(indexes ...int) []domain.ProfileSlot {
	slots := make([]domain.ProfileSlot, len(indexes))
	for i, idx := range indexes {
		slots[i] = domain.ProfileSlot{ID: uuid.New(), SlotIndex: idx}
	}
	return slots
}

func indexesOf(slots []domain.ProfileSlot) []int {
	out := make([]int, len(slots))
	for i, s := range slots {
		out[i] = s.SlotIndex
	}
	return out
}

func TestReservationOrder(t *testing.T) {
	tests := []struct {
		name               string
		indexes            []int
		preferNonPrincipal bool
		want               []int
	}{
		{"principal last", []int{1, 2, 3, 4}, true, []int{2, 3, 4, 1}},
		{"unsorted input", []int{3, 1, 4, 2}, true, []int{2, 3, 4, 1}},
		{"no preference keeps index order", []int{3, 1, 2}, false, []int{1, 2, 3}},
		{"only principal", []int{1}, true, []int{1}},
		{"principal already bound", []int{2, 4}, true, []int{2, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := slotsWithIndexes(tt.indexes...)
			got := ReservationOrder(input, tt.preferNonPrincipal)

			assert.Equal(t, tt.want, indexesOf(got))
			// Input must be left untouched
			assert.Equal(t, tt.indexes, indexesOf(input))
		})
	}
}

func TestPickFree(t *testing.T) {
	bound := uuid.New()
	slots := slotsWithIndexes(1, 2, 3, 4)
	slots[2].BoundSubscriptionID = &bound

	tests := []struct {
		name  string
		count int
		want  []int
	}{
		{"one", 1, []int{2}},
		{"skips bound slot", 2, []int{2, 4}},
		{"principal used last", 3, []int{2, 4, 1}},
		{"more than free", 4, nil},
		{"zero", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickFree(slots, tt.count, true)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, indexesOf(got))
		})
	}
}
