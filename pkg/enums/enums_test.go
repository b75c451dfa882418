package enums

import "testing"

func TestParseReceiptStatus(t *testing.T) {
	for _, raw := range []string{"PENDING", "FULFILLED", "FAILED"} {
		got, err := ParseReceiptStatus(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if got.String() != raw || !got.IsValid() {
			t.Fatalf("round trip mismatch for %s", raw)
		}
	}
	if _, err := ParseReceiptStatus("pending"); err == nil {
		t.Fatal("status parsing is case sensitive")
	}
}

func TestReforgeStatusTerminal(t *testing.T) {
	if ReforgeStatusPending.IsTerminal() {
		t.Fatal("pending is not terminal")
	}
	if !ReforgeStatusConfirmed.IsTerminal() || !ReforgeStatusExpired.IsTerminal() {
		t.Fatal("confirmed and expired are terminal")
	}
	if _, err := ParseReforgeStatus("REVOKED"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestOutboxEnums(t *testing.T) {
	if _, err := ParseOutboxEventType("membership_minted"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if OutboxEventType("order_created").IsValid() {
		t.Fatal("unknown event type should be invalid")
	}
	if _, err := ParseOutboxAggregateType("encounter"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !OutboxDLQReasonUnknownEvent.IsValid() {
		t.Fatal("unknown_event is a valid dlq reason")
	}
}
