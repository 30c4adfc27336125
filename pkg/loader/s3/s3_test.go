package s3

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"s3://tickets/uploads/a.csv", "tickets", "uploads/a.csv", true},
		{"s3://tickets/a.json", "tickets", "a.json", true},
		{"s3://tickets", "", "", false},
		{"s3:///a.csv", "", "", false},
		{"/tmp/a.csv", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			bucket, key, ok := ParseURI(tc.in)
			if bucket != tc.bucket || key != tc.key || ok != tc.ok {
				t.Fatalf("expected (%q, %q, %v), got (%q, %q, %v)", tc.bucket, tc.key, tc.ok, bucket, key, ok)
			}
		})
	}
}
