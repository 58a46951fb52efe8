package types

import (
	"net/url"
	"testing"
	"time"
)

func TestParseListParams_Limit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", DefaultListLimit},
		{"0", DefaultListLimit},
		{"-5", DefaultListLimit},
		{"abc", DefaultListLimit},
		{"1.5", DefaultListLimit},
		{"500", MaxListLimit},
		{"200", 200},
		{"1", 1},
		{" 25 ", 25},
	}

	for _, tt := range tests {
		t.Run("limit="+tt.raw, func(t *testing.T) {
			q := url.Values{}
			if tt.raw != "" {
				q.Set("limit", tt.raw)
			}
			got := ParseListParams(q)
			if got.Limit != tt.want {
				t.Errorf("Limit = %d, want %d", got.Limit, tt.want)
			}
		})
	}
}

func TestParseListParams_Since(t *testing.T) {
	q := url.Values{"since": {"2026-03-01T10:00:00+02:00"}}
	got := ParseListParams(q)
	if got.Since == nil {
		t.Fatal("expected Since to be parsed")
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !got.Since.Equal(want) {
		t.Errorf("Since = %v, want %v", got.Since, want)
	}

	bad := ParseListParams(url.Values{"since": {"yesterday"}})
	if bad.Since != nil {
		t.Errorf("invalid since should be ignored, got %v", bad.Since)
	}
}

func TestNewListResponse(t *testing.T) {
	resp := NewListResponse([]int{1, 2, 3}, 2)
	if !resp.PageInfo.HasMore || len(resp.Data) != 2 {
		t.Errorf("expected 2 items with has_more, got %+v", resp)
	}

	empty := NewListResponse[int](nil, 50)
	if empty.Data == nil || empty.PageInfo.HasMore {
		t.Errorf("expected empty non-nil slice, got %+v", empty)
	}
}
