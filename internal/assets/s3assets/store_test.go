package s3assets

import "testing"

func TestStore_KeyWithoutPrefix(t *testing.T) {
	s := &Store{bucket: "b", region: "us-east-1"}
	got := s.key("population", "v1", "sources.zip")
	want := "population/v1/assets/sources.zip"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestStore_KeyWithPrefix(t *testing.T) {
	s := &Store{bucket: "b", prefix: "ddf", region: "us-east-1"}
	got := s.key("population", "v1", "sources.zip")
	want := "ddf/population/v1/assets/sources.zip"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestStore_URLIsVirtualHostedStyle(t *testing.T) {
	s := &Store{bucket: "my-bucket", region: "eu-west-1"}
	got := s.URL("population", "v1", "sources.zip")
	want := "https://my-bucket.s3.eu-west-1.amazonaws.com/population/v1/assets/sources.zip"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
