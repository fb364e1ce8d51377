package textutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestMessageAttributesDropsBlankEntries(t *testing.T) {
	got := MessageAttributes(map[string]string{
		" orderId ": " ord_1 ",
		"traceId":   "",
		"status":    "  ",
		" ":         "ignored",
	}, 0)
	want := map[string]string{"orderId": "ord_1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
	if MessageAttributes(map[string]string{"requestId": ""}, 0) != nil {
		t.Fatalf("expected nil when nothing survives")
	}
	if MessageAttributes(nil, 0) != nil {
		t.Fatalf("expected nil for nil input")
	}
}

func TestMessageAttributesTruncatesOnRuneBoundary(t *testing.T) {
	value := strings.Repeat("a", 9) + "é"
	got := MessageAttributes(map[string]string{"name": value}, 10)
	if got["name"] != strings.Repeat("a", 9) {
		t.Fatalf("expected split rune to be dropped, got %q", got["name"])
	}
}
