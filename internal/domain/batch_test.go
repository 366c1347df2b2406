package domain

import "testing"

func TestCreateBatchRequestValidate(t *testing.T) {
	valid := CreateBatchRequest{
		SourceURLs: []string{"https://example.com/a.jpg", "http://example.com/b.png"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	empty := CreateBatchRequest{}
	if err := empty.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	badScheme := CreateBatchRequest{SourceURLs: []string{"ftp://example.com/a.jpg"}}
	if err := badScheme.Validate(); err == nil {
		t.Fatal("expected validation error for non-http scheme")
	}

	noHost := CreateBatchRequest{SourceURLs: []string{"https:///a.jpg"}}
	if err := noHost.Validate(); err == nil {
		t.Fatal("expected validation error for missing host")
	}
}

func TestBatchJobDone(t *testing.T) {
	job := BatchJob{Items: []BatchItem{
		{Index: 0, Status: ItemStatusOptimized},
		{Index: 1, Status: ItemStatusPending},
	}}
	if job.Done() {
		t.Fatal("expected batch with pending item to be unfinished")
	}

	job.Items[1].Status = ItemStatusFailed
	if !job.Done() {
		t.Fatal("expected batch with all terminal items to be done")
	}

	if (BatchJob{}).Done() {
		t.Fatal("expected empty batch to be unfinished")
	}
}
