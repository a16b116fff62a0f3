package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeObjectAPI struct {
	mu     sync.Mutex
	data   []byte
	ranges []string
	heads  int
}

func (f *fakeObjectAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rng := aws.ToString(in.Range)
	f.ranges = append(f.ranges, rng)

	var start int
	if rng != "" {
		if _, err := fmt.Sscanf(rng, "bytes=%d-", &start); err != nil {
			return nil, err
		}
	}
	if start > len(f.data) {
		return nil, fmt.Errorf("InvalidRange")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.data[start:]))}, nil
}

func (f *fakeObjectAPI) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(f.data)))}, nil
}

func TestS3Origin_RangedResume(t *testing.T) {
	t.Parallel()

	api := &fakeObjectAPI{data: []byte("A\nB\nC")}
	origin := NewS3Origin(api, "logs", "app/2024/01/01.log")

	s, err := Open(context.Background(), origin, 2, Options{Name: origin.String()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, _, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if string(got) != "B\nC" {
		t.Fatalf("content = %q, want %q", got, "B\nC")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.ranges) != 2 || api.ranges[0] != "" || api.ranges[1] != "bytes=2-" {
		t.Fatalf("ranges = %q, want [\"\" \"bytes=2-\"]", api.ranges)
	}
	if api.heads != 1 {
		t.Fatalf("head calls = %d, want 1", api.heads)
	}
}

func TestS3Origin_CompressedNeverRanged(t *testing.T) {
	t.Parallel()

	api := &fakeObjectAPI{data: gzipBytes(t, []byte("A\nB\nC"))}
	origin := NewS3Origin(api, "logs", "app.log.gz")

	s, err := Open(context.Background(), origin, 2, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, _, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if string(got) != "B\nC" {
		t.Fatalf("content = %q, want %q", got, "B\nC")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	for _, r := range api.ranges {
		if r != "" {
			t.Fatalf("compressed object fetched with range %q", r)
		}
	}
}

func TestParseS3URI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantBkt   string
		wantKey   string
		errSubstr string
	}{
		{
			name:    "bucket and key",
			raw:     "s3://config-bucket/ferry/config.yaml",
			wantBkt: "config-bucket",
			wantKey: "ferry/config.yaml",
		},
		{
			name:      "bucket only",
			raw:       "s3://config-bucket",
			wantErr:   true,
			errSubstr: "missing object key",
		},
		{
			name:      "invalid scheme",
			raw:       "https://config-bucket/config.yaml",
			wantErr:   true,
			errSubstr: "s3:// scheme",
		},
		{
			name:      "missing bucket",
			raw:       "s3:///config.yaml",
			wantErr:   true,
			errSubstr: "missing bucket",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotBkt, gotKey, err := ParseS3URI(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errSubstr != "" && !strings.Contains(err.Error(), tt.errSubstr) {
					t.Fatalf("err = %q, want substring %q", err.Error(), tt.errSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseS3URI error: %v", err)
			}
			if gotBkt != tt.wantBkt {
				t.Fatalf("bucket = %q, want %q", gotBkt, tt.wantBkt)
			}
			if gotKey != tt.wantKey {
				t.Fatalf("key = %q, want %q", gotKey, tt.wantKey)
			}
		})
	}
}

func TestBucketNameFromARN(t *testing.T) {
	t.Parallel()

	if got := BucketNameFromARN("arn:aws:s3:::my-logs"); got != "my-logs" {
		t.Fatalf("BucketNameFromARN = %q, want my-logs", got)
	}
}

func TestNewS3Client_PartialCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewS3Client(context.Background(), S3Config{Region: "us-east-1", AccessKey: "AKIA"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
