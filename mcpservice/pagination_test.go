package mcpservice

import "testing"

func strptr(s string) *string { return &s }

func TestPageSlice(t *testing.T) {
	t.Parallel()
	all := []int{0, 1, 2, 3, 4}

	tests := []struct {
		name       string
		cursor     *string
		pageSize   int
		wantItems  []int
		wantCursor *string
	}{
		{name: "first page", cursor: nil, pageSize: 2, wantItems: []int{0, 1}, wantCursor: strptr("2")},
		{name: "middle page", cursor: strptr("2"), pageSize: 2, wantItems: []int{2, 3}, wantCursor: strptr("4")},
		{name: "final page", cursor: strptr("4"), pageSize: 2, wantItems: []int{4}, wantCursor: nil},
		{name: "oversized page", cursor: nil, pageSize: 10, wantItems: all, wantCursor: nil},
		{name: "malformed cursor restarts", cursor: strptr("bogus"), pageSize: 10, wantItems: all, wantCursor: nil},
		{name: "negative cursor restarts", cursor: strptr("-3"), pageSize: 10, wantItems: all, wantCursor: nil},
		{name: "out of range cursor restarts", cursor: strptr("99"), pageSize: 10, wantItems: all, wantCursor: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := pageSlice(all, tt.pageSize, tt.cursor)
			if len(page.Items) != len(tt.wantItems) {
				t.Fatalf("items = %v, want %v", page.Items, tt.wantItems)
			}
			for i := range tt.wantItems {
				if page.Items[i] != tt.wantItems[i] {
					t.Fatalf("items = %v, want %v", page.Items, tt.wantItems)
				}
			}
			switch {
			case tt.wantCursor == nil && page.NextCursor != nil:
				t.Fatalf("next cursor = %q, want nil", *page.NextCursor)
			case tt.wantCursor != nil && (page.NextCursor == nil || *page.NextCursor != *tt.wantCursor):
				t.Fatalf("next cursor = %v, want %q", page.NextCursor, *tt.wantCursor)
			}
		})
	}
}

func TestNewPage_NilItems(t *testing.T) {
	t.Parallel()
	page := NewPage[string](nil)
	if page.Items == nil {
		t.Fatal("items should be an empty slice, not nil")
	}
	if page.NextCursor != nil {
		t.Fatal("next cursor should be nil")
	}
}
