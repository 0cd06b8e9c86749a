package discovery

import "testing"

func TestTXTRoundTrip(t *testing.T) {
	record := txtRecord("4821")
	code, version := ParseTXT(record)
	if code != "4821" {
		t.Fatalf("code = %q, want 4821", code)
	}
	if version != ProtocolVersion {
		t.Fatalf("version = %d, want %d", version, ProtocolVersion)
	}
}

func TestParseTXT_TolerantOfUnknownEntries(t *testing.T) {
	code, version := ParseTXT([]string{"nonsense", "code=1234", "foo=bar", "version=1"})
	if code != "1234" || version != 1 {
		t.Fatalf("got code=%q version=%d", code, version)
	}
}

func TestParseTXT_EmptyInput(t *testing.T) {
	code, version := ParseTXT(nil)
	if code != "" || version != 0 {
		t.Fatalf("expected zero values, got code=%q version=%d", code, version)
	}
}
