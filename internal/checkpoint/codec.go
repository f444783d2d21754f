// Package checkpoint persists the reporter's Report between process runs so a
// restart does not announce recent events a second time.
//
// A checkpoint is a versioned JSON document compressed with zstd. Stores only
// move the encoded bytes; Encode and Decode own the format.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

// FormatVersion is the current checkpoint format. Decode rejects others.
const FormatVersion = 1

// Store loads and saves the Report. Load reports false when no checkpoint
// exists yet.
type Store interface {
	Load(ctx context.Context) (reporter.Report, bool, error)
	Save(ctx context.Context, report reporter.Report) error
}

type document struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Report  reporter.Report `json:"report"`
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
		}
		encoder = e
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		decoder = d
	})
	return decoder
}

// Encode serializes a Report.
func Encode(report reporter.Report, savedAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(document{
		Version: FormatVersion,
		SavedAt: savedAt.UTC(),
		Report:  report,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return getEncoder().EncodeAll(raw, nil), nil
}

// Decode parses data written by Encode. Corrupt or foreign data yields an
// AppError with ErrCodeInternalCheckpointCorrupt.
func Decode(data []byte) (reporter.Report, time.Time, error) {
	raw, err := getDecoder().DecodeAll(data, nil)
	if err != nil {
		return nil, time.Time{}, corrupt("checkpoint is not zstd data", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, time.Time{}, corrupt("checkpoint is not valid JSON", err)
	}
	if doc.Version != FormatVersion {
		return nil, time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeInternalCheckpointCorrupt,
			"unsupported checkpoint version", nil, map[string]any{"version": doc.Version})
	}

	report := doc.Report
	if report == nil {
		report = make(reporter.Report)
	}
	for _, roster := range report {
		for id, t := range roster {
			for i := range t.Comments {
				// Facts are compared by value; only UTC instants compare equal
				// to freshly extracted ones.
				t.Comments[i].At = t.Comments[i].At.UTC()
			}
			roster[id] = t
		}
	}
	return report, doc.SavedAt, nil
}

func corrupt(msg string, err error) error {
	return types.NewAppError(types.ErrCodeInternalCheckpointCorrupt, msg, err)
}
