package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/duckmesh/rsbulk/internal/storage"
)

func TestVerifyFindsObjects(t *testing.T) {
	lister := &stubLister{objects: []storage.ObjectInfo{
		{Key: "exports/sales_0000_part_00.csv", Size: 100},
		{Key: "exports/sales_0001_part_00.csv", Size: 250},
	}}
	v := &Verifier{Lister: lister, MaxKeys: 5}

	result := v.Verify(context.Background(), "s3://export-bucket/exports/sales_")
	if !result.Found || result.Warning != nil {
		t.Fatalf("result = %+v", result)
	}
	if result.ObjectCount != 2 || result.TotalBytes != 350 {
		t.Fatalf("count/bytes = %d/%d", result.ObjectCount, result.TotalBytes)
	}
	if len(result.SampleKeys) != 2 || result.SampleKeys[0] != "exports/sales_0000_part_00.csv" {
		t.Fatalf("SampleKeys = %v", result.SampleKeys)
	}
	if lister.bucket != "export-bucket" || lister.prefix != "exports/sales_" || lister.maxKeys != 5 {
		t.Fatalf("list args = %q %q %d", lister.bucket, lister.prefix, lister.maxKeys)
	}
}

func TestVerifyWarnsWhenNothingFound(t *testing.T) {
	v := &Verifier{Lister: &stubLister{}}
	result := v.Verify(context.Background(), "s3://export-bucket/exports/")
	if result.Found {
		t.Fatal("Found should be false")
	}
	if result.Warning == nil || result.Warning.Reason != "no objects found" {
		t.Fatalf("Warning = %+v", result.Warning)
	}
}

func TestVerifyWarnsWhenListingFails(t *testing.T) {
	root := errors.New("AccessDenied")
	v := &Verifier{Lister: &stubLister{err: root}}
	result := v.Verify(context.Background(), "s3://export-bucket/exports/")
	if result.Warning == nil || !errors.Is(result.Warning, root) {
		t.Fatalf("Warning = %+v", result.Warning)
	}
}

func TestVerifyUsesDefaultMaxKeys(t *testing.T) {
	lister := &stubLister{objects: []storage.ObjectInfo{{Key: "a"}}}
	v := &Verifier{Lister: lister}
	v.Verify(context.Background(), "s3://b/p")
	if lister.maxKeys != DefaultMaxKeys {
		t.Fatalf("maxKeys = %d", lister.maxKeys)
	}
}

func TestVerifyWarnsOnMalformedDestination(t *testing.T) {
	lister := &stubLister{}
	v := &Verifier{Lister: lister}
	result := v.Verify(context.Background(), "/local/path")
	if result.Warning == nil {
		t.Fatal("expected warning")
	}
	if lister.calls != 0 {
		t.Fatalf("list calls = %d", lister.calls)
	}
}

func TestVerifyListsKeysWithURLMetacharactersVerbatim(t *testing.T) {
	tests := []struct {
		destination string
		prefix      string
	}{
		{destination: "s3://exports/run#1/part_", prefix: "run#1/part_"},
		{destination: "s3://exports/q?v=1/part_", prefix: "q?v=1/part_"},
		{destination: "s3://exports/50%off/part_", prefix: "50%off/part_"},
	}
	for _, tc := range tests {
		lister := &stubLister{objects: []storage.ObjectInfo{{Key: tc.prefix + "000", Size: 1}}}
		v := &Verifier{Lister: lister}
		result := v.Verify(context.Background(), tc.destination)
		if result.Warning != nil {
			t.Fatalf("Verify(%q) warning = %v", tc.destination, result.Warning)
		}
		if lister.bucket != "exports" || lister.prefix != tc.prefix {
			t.Fatalf("Verify(%q) listed %q/%q, want exports/%q", tc.destination, lister.bucket, lister.prefix, tc.prefix)
		}
	}
}

type stubLister struct {
	objects []storage.ObjectInfo
	err     error
	bucket  string
	prefix  string
	maxKeys int
	calls   int
}

func (s *stubLister) List(_ context.Context, bucket, prefix string, maxKeys int) ([]storage.ObjectInfo, error) {
	s.calls++
	s.bucket = bucket
	s.prefix = prefix
	s.maxKeys = maxKeys
	return s.objects, s.err
}
