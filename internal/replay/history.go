package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"kassenews/internal/types"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Dump is the on-disk form of recorded contest history.
type Dump struct {
	ExportedAt time.Time             `json:"exported_at"`
	Contests   []types.ContestRecord `json:"contests"`
}

// ReadDump decodes a Dump, transparently decompressing zstd input.
func ReadDump(r io.Reader) (*Dump, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	var dump Dump
	if err := json.NewDecoder(src).Decode(&dump); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationHistory, "history is not a valid contest dump", err)
	}
	return &dump, nil
}

// WriteDump encodes dump to w, zstd-compressed when compress is set.
func WriteDump(w io.Writer, dump *Dump, compress bool) error {
	if !compress {
		return json.NewEncoder(w).Encode(dump)
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("opening zstd stream: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(dump); err != nil {
		enc.Close()
		return fmt.Errorf("encoding history: %w", err)
	}
	return enc.Close()
}

// S3GetObjectClient abstracts the S3 GetObject operation for testability.
type S3GetObjectClient interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ParseS3URI splits "s3://bucket/key" into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri %q needs a bucket and a key", uri)
	}
	return bucket, key, nil
}

// LoadDump reads a dump from a local path or an s3:// URI. client may be nil
// when loc is a local path.
func LoadDump(ctx context.Context, client S3GetObjectClient, loc string) (*Dump, error) {
	if !strings.HasPrefix(loc, "s3://") {
		f, err := os.Open(loc)
		if err != nil {
			return nil, fmt.Errorf("opening history file: %w", err)
		}
		defer f.Close()
		return ReadDump(f)
	}

	bucket, key, err := ParseS3URI(loc)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("no s3 client configured for %s", loc)
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", loc, err)
	}
	defer out.Body.Close()
	return ReadDump(out.Body)
}
