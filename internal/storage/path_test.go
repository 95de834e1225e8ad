package storage

import "testing"

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("s3://sales-data/reports/2024/q1.yaml")
	if err != nil {
		t.Fatalf("ParseLocation() error = %v", err)
	}
	if loc.Bucket != "sales-data" || loc.Key != "reports/2024/q1.yaml" {
		t.Fatalf("ParseLocation() = %+v", loc)
	}
	if loc.String() != "s3://sales-data/reports/2024/q1.yaml" {
		t.Fatalf("String() = %q", loc.String())
	}
}

func TestParseLocationRejectsInvalidInput(t *testing.T) {
	for _, uri := range []string{
		"https://example.com/a.yaml",
		"s3://Bad_Bucket/a.yaml",
		"s3://bucket/",
		"s3://bucket/../secrets",
		"/local/file.yaml",
	} {
		if _, err := ParseLocation(uri); err == nil {
			t.Fatalf("ParseLocation(%q) expected error", uri)
		}
	}
}
